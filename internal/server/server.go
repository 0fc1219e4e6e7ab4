package server

import (
	"context"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/onebot/internal/auth"
)

const defaultAddr = ":8090"

// Handler registers its routes on the shared echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// Options configure the admin HTTP server.
type Options struct {
	Addr      string
	JWTSecret string
	Logger    *slog.Logger
}

type Server struct {
	echo   *echo.Echo
	addr   string
	logger *slog.Logger
}

var jwtExactSkipPaths = map[string]struct{}{
	"/ping":   {},
	"/health": {},
}

func NewServer(opts Options, handlers ...Handler) *Server {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "server"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	e.Use(auth.JWTMiddleware(opts.JWTSecret, func(c echo.Context) bool {
		return shouldSkipJWT(c.Request().URL.Path)
	}))
	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr, logger: log}
}

func shouldSkipJWT(path string) bool {
	_, ok := jwtExactSkipPaths[path]
	return ok
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Addr() string {
	return s.addr
}

// Start blocks serving until Stop is called; it then returns http.ErrServerClosed.
func (s *Server) Start() error {
	s.logger.Info("listening", slog.String("addr", s.addr))
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
