// Package onebot implements the OneBot v11 channel adapter: a websocket
// action/event client with HTTP fallback, message normalization, the direct
// message access policy, and outbound delivery.
package onebot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/route"
	"github.com/memohai/onebot/internal/store"
)

// Type is the registered channel type.
const Type channel.ChannelType = "onebot"

const (
	actionGetLoginInfo = "get_login_info"
	probeTimeout       = 15 * time.Second
)

// AllowListReader returns the persisted allow-list for an account.
type AllowListReader interface {
	ReadAllowFrom(ctx context.Context, channel, accountID string) ([]string, error)
}

// PairingStore records pairing requests. created is true only for a new request.
type PairingStore interface {
	UpsertPairingRequest(ctx context.Context, in store.PairingInput) (req store.PairingRequest, created bool, err error)
}

// SessionRecorder persists inbound messages.
type SessionRecorder interface {
	RecordInbound(ctx context.Context, rec store.InboundRecord) error
}

// RouteResolver maps a peer to its agent and session.
type RouteResolver interface {
	Resolve(ctx context.Context, in route.Input) (route.Route, error)
}

// Options are the adapter's collaborators. Only Accounts is required.
type Options struct {
	Logger        *slog.Logger
	Accounts      *AccountStore
	AllowList     AllowListReader
	Pairing       PairingStore
	Sessions      SessionRecorder
	Router        RouteResolver
	Detector      MimeDetector
	Activity      channel.ActivityRecorder
	HTTPClient    *http.Client
	Dialer        *websocket.Dialer
	ActionTimeout time.Duration
	Now           func() time.Time
}

// Adapter is the OneBot channel adapter.
type Adapter struct {
	logger        *slog.Logger
	accounts      *AccountStore
	allowList     AllowListReader
	pairing       PairingStore
	sessions      SessionRecorder
	router        RouteResolver
	detector      MimeDetector
	activity      channel.ActivityRecorder
	httpClient    *http.Client
	dialer        *websocket.Dialer
	actionTimeout time.Duration
	now           func() time.Time

	mu    sync.RWMutex
	conns map[string]*accountConn
}

type accountConn struct {
	client *Client

	mu     sync.RWMutex
	selfID string
}

func (c *accountConn) self() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selfID
}

func (c *accountConn) setSelf(id string) {
	c.mu.Lock()
	c.selfID = id
	c.mu.Unlock()
}

// NewAdapter creates an adapter from opts.
func NewAdapter(opts Options) *Adapter {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	detector := opts.Detector
	if detector == nil {
		detector = NewContentDetector(httpClient)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		logger:        log.With(slog.String("adapter", "onebot")),
		accounts:      opts.Accounts,
		allowList:     opts.AllowList,
		pairing:       opts.Pairing,
		sessions:      opts.Sessions,
		router:        opts.Router,
		detector:      detector,
		activity:      opts.Activity,
		httpClient:    httpClient,
		dialer:        opts.Dialer,
		actionTimeout: opts.ActionTimeout,
		now:           now,
		conns:         map[string]*accountConn{},
	}
}

// Type implements channel.Adapter.
func (a *Adapter) Type() channel.ChannelType {
	return Type
}

// Descriptor implements channel.Adapter.
func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "OneBot v11",
		Capabilities: channel.ChannelCapabilities{
			Text:        true,
			Attachments: true,
			Media:       true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: channel.DefaultTextChunkLimit,
			ChunkMode:      channel.ChunkModeLength,
		},
	}
}

// Connect opens the account's socket and returns once the client is running.
// The socket itself connects in the background and keeps reconnecting until
// the returned connection is stopped.
func (a *Adapter) Connect(ctx context.Context, cfg channel.ChannelConfig, handler channel.InboundHandler) (channel.Connection, error) {
	if handler == nil {
		return nil, fmt.Errorf("onebot: inbound handler is required")
	}
	account := a.accounts.Account(cfg.ID)
	if !account.Configured {
		return nil, ErrMissingURL
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := &accountConn{}
	log := a.logger.With(slog.String("account_id", account.AccountID))
	client, err := NewClient(ClientOptions{
		AccountID:     account.AccountID,
		WSURL:         account.WSURL,
		AccessToken:   account.AccessToken,
		ActionTimeout: a.actionTimeout,
		Dialer:        a.dialer,
		Logger:        a.logger,
		OnEvent: func(ev Event) {
			go a.handleEvent(connCtx, cfg, conn, ev, handler)
		},
		OnConnected: func() {
			go a.probeSelf(connCtx, account.AccountID, conn)
		},
		OnDisconnected: func(err error) {
			log.Warn("socket closed", slog.Any("error", err))
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	conn.client = client
	if err := client.Start(connCtx); err != nil {
		cancel()
		return nil, err
	}

	a.mu.Lock()
	a.conns[cfg.ID] = conn
	a.mu.Unlock()

	stop := func(stopCtx context.Context) error {
		a.mu.Lock()
		if a.conns[cfg.ID] == conn {
			delete(a.conns, cfg.ID)
		}
		a.mu.Unlock()
		cancel()
		client.Stop()
		select {
		case <-client.Done():
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
	return channel.NewConnection(cfg, stop), nil
}

// probeSelf learns the bot's own id for echo suppression.
func (a *Adapter) probeSelf(ctx context.Context, accountID string, conn *accountConn) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	resp, err := invoke(probeCtx, conn.client, actionGetLoginInfo, nil)
	if err != nil {
		a.logger.Warn("get_login_info failed", slog.String("account_id", accountID), slog.Any("error", err))
		return
	}
	var info LoginInfo
	if err := resp.Decode(&info); err != nil {
		a.logger.Warn("decode login info failed", slog.String("account_id", accountID), slog.Any("error", err))
		return
	}
	if id := info.UserID.String(); id != "" {
		conn.setSelf(id)
		a.logger.Info("logged in",
			slog.String("account_id", accountID),
			slog.String("self_id", id),
			slog.String("nickname", info.Nickname),
		)
	}
}

// Send implements channel.Sender.
func (a *Adapter) Send(ctx context.Context, cfg channel.ChannelConfig, msg channel.OutboundMessage) error {
	target := strings.TrimSpace(msg.Target)
	if target == "" {
		return fmt.Errorf("onebot: target is required")
	}
	account := a.accounts.Account(cfg.ID)
	if !account.Configured && account.HTTPURL == "" {
		return ErrMissingURL
	}
	return a.deliver(ctx, account, a.transportFor(account, a.client(cfg.ID)), target, msg.Message)
}

// LinkUp reports whether the account's socket is currently attached.
func (a *Adapter) LinkUp(accountID string) bool {
	client := a.client(accountID)
	return client != nil && client.IsConnected()
}

func (a *Adapter) client(accountID string) *Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if conn, ok := a.conns[accountID]; ok {
		return conn.client
	}
	return nil
}

// transportFor builds the socket-then-HTTP transport for one call.
func (a *Adapter) transportFor(account ResolvedAccount, client *Client) Transport {
	fallback := FallbackTransport{
		Secondary: NewHTTPTransport(account.HTTPURL, account.AccessToken, a.httpClient),
		Logger:    a.logger,
	}
	if client != nil {
		fallback.Primary = client
	}
	return fallback
}
