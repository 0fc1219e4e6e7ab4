package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/onebot/internal/backend"
	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/channel/adapters/onebot"
	"github.com/memohai/onebot/internal/config"
	"github.com/memohai/onebot/internal/handlers"
	"github.com/memohai/onebot/internal/healthcheck"
	channelchecker "github.com/memohai/onebot/internal/healthcheck/checkers/channel"
	storechecker "github.com/memohai/onebot/internal/healthcheck/checkers/store"
	"github.com/memohai/onebot/internal/logger"
	"github.com/memohai/onebot/internal/route"
	"github.com/memohai/onebot/internal/server"
	"github.com/memohai/onebot/internal/store"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect every enabled account and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	app := fx.New(
		fx.Provide(
			func() (*config.Provider, error) { return provideConfigProvider(configPath) },
			provideLogger,
			provideStore,
			route.NewResolver,
			onebot.NewAccountStore,
			provideDispatcher,
			channel.NewRegistry,
			provideChannelManager,
			provideOneBotAdapter,
			provideHealthChecker,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewHealthHandler),
			provideServerHandler(provideStatusHandler),
			provideServerHandler(providePairingHandler),
			provideServerHandler(provideSendHandler),
			provideServerHandler(provideSessionsHandler),
			provideServer,
		),
		fx.Invoke(
			registerAdapters,
			startChannelManager,
			startConfigReloader,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfigProvider(path string) (*config.Provider, error) {
	provider, err := config.NewProvider(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return provider, nil
}

func provideLogger(provider *config.Provider) *slog.Logger {
	cfg := provider.Current()
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, provider *config.Provider) (*store.Store, error) {
	st, err := store.Open(provider.Current().Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return st.Close() }})
	return st, nil
}

func provideDispatcher(log *slog.Logger, provider *config.Provider) *backend.Dispatcher {
	return backend.NewDispatcher(log, provider, &http.Client{})
}

func provideChannelManager(log *slog.Logger, registry *channel.Registry, accounts *onebot.AccountStore, dispatcher *backend.Dispatcher) *channel.Manager {
	return channel.NewManager(log, registry, accounts, dispatcher)
}

func provideOneBotAdapter(log *slog.Logger, accounts *onebot.AccountStore, st *store.Store, resolver *route.Resolver, manager *channel.Manager) *onebot.Adapter {
	return onebot.NewAdapter(onebot.Options{
		Logger:    log,
		Accounts:  accounts,
		AllowList: st,
		Pairing:   st,
		Sessions:  st,
		Router:    resolver,
		Activity:  manager,
	})
}

func provideHealthChecker(log *slog.Logger, manager *channel.Manager, adapter *onebot.Adapter, st *store.Store) healthcheck.Checker {
	return healthcheck.Set{
		storechecker.NewChecker(st),
		channelchecker.NewChecker(log, manager, adapter),
	}
}

func providePingHandler(log *slog.Logger, st *store.Store) *handlers.PingHandler {
	return handlers.NewPingHandler(log, st)
}

func provideAuthHandler(provider *config.Provider) *handlers.AuthHandler {
	cfg := provider.Current().Server
	return handlers.NewAuthHandler(cfg.JWTSecret, tokenTTL(cfg))
}

func provideStatusHandler(manager *channel.Manager, accounts *onebot.AccountStore) *handlers.StatusHandler {
	return handlers.NewStatusHandler(manager, accounts)
}

func providePairingHandler(log *slog.Logger, st *store.Store) *handlers.PairingHandler {
	return handlers.NewPairingHandler(log, st)
}

func provideSendHandler(manager *channel.Manager) *handlers.SendHandler {
	return handlers.NewSendHandler(manager)
}

func provideSessionsHandler(st *store.Store) *handlers.SessionsHandler {
	return handlers.NewSessionsHandler(st)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Provider       *config.Provider
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	cfg := params.Provider.Current().Server
	if cfg.JWTSecret == "" {
		params.Logger.Warn("server.jwt_secret is empty; the admin API is unauthenticated")
	}
	return server.NewServer(server.Options{
		Addr:      cfg.Addr,
		JWTSecret: cfg.JWTSecret,
		Logger:    params.Logger,
	}, params.ServerHandlers...)
}

func registerAdapters(manager *channel.Manager, adapter *onebot.Adapter) {
	manager.RegisterAdapter(adapter)
}

func startChannelManager(lc fx.Lifecycle, channelManager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { channelManager.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return channelManager.Shutdown(stopCtx) },
	})
}

// startConfigReloader re-reads the config file on SIGHUP and reconciles
// connections against it.
func startConfigReloader(lc fx.Lifecycle, log *slog.Logger, provider *config.Provider, channelManager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			signal.Notify(signals, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-signals:
						if _, err := provider.Reload(); err != nil {
							log.Error("config reload failed", slog.Any("error", err))
							continue
						}
						log.Info("config reloaded")
						channelManager.Refresh(ctx)
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			signal.Stop(signals)
			cancel()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func tokenTTL(cfg config.ServerConfig) time.Duration {
	hours := cfg.TokenTTLHours
	if hours <= 0 {
		hours = config.DefaultTokenTTLHours
	}
	return time.Duration(hours) * time.Hour
}
