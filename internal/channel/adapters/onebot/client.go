package onebot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultActionTimeout bounds how long SendAction waits for a response.
	DefaultActionTimeout = 10 * time.Second

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 15 * time.Second
)

// ReconnectDelay returns the wait before reconnect attempt n (0-indexed):
// min(1s * 2^n, 15s).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return reconnectMaxDelay
	}
	delay := reconnectBaseDelay << uint(attempt)
	if delay > reconnectMaxDelay {
		return reconnectMaxDelay
	}
	return delay
}

// ClientOptions configures a socket client for one account.
type ClientOptions struct {
	AccountID     string
	WSURL         string
	AccessToken   string
	ActionTimeout time.Duration
	Dialer        *websocket.Dialer
	Logger        *slog.Logger
	// OnEvent runs on the read goroutine. It must not block; responses to
	// pending actions are read by the same goroutine.
	OnEvent        func(Event)
	OnConnected    func()
	OnDisconnected func(err error)
}

type actionResult struct {
	resp ActionResponse
	err  error
}

type pendingAction struct {
	done  chan actionResult
	timer *time.Timer
}

// Client is a OneBot v11 socket connection with reconnection and echo-based
// response correlation. One Client serves one account.
type Client struct {
	opts    ClientOptions
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger
	backoff func(attempt int) time.Duration
	seq     atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]*pendingAction
	attempts int
	started  bool
	stopped  bool

	writeMu  sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewClient validates the options and builds an idle client. Start opens it.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.WSURL) == "" {
		return nil, ErrMissingURL
	}
	target, err := withAccessToken(strings.TrimSpace(opts.WSURL), opts.AccessToken)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:    opts,
		url:     target,
		timeout: timeout,
		dialer:  dialer,
		logger:  log.With(slog.String("account_id", opts.AccountID)),
		backoff: ReconnectDelay,
		pending: map[string]*pendingAction{},
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the connection loop. Cancelling ctx has the same effect as Stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.stopCh:
		}
	}()
	go c.run(ctx)
	return nil
}

// Done is closed once the connection loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// IsConnected reports whether the socket is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.stopped
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		if c.isStopped() {
			return
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			if !c.attach(conn) {
				_ = conn.Close()
				return
			}
			c.logger.Info("connected")
			if c.opts.OnConnected != nil {
				c.opts.OnConnected()
			}
			err = c.readLoop(conn)
			c.detach(conn)
			if c.opts.OnDisconnected != nil {
				c.opts.OnDisconnected(err)
			}
		}
		if c.isStopped() {
			return
		}
		delay := c.nextDelay()
		c.logger.Warn("connection lost, reconnecting", slog.Duration("delay", delay), slog.Any("error", err))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			return
		}
	}
}

func (c *Client) nextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	delay := c.backoff(c.attempts)
	c.attempts++
	return delay
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.conn = conn
	c.attempts = 0
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		c.logger.Warn("drop frame", slog.Int("bytes", len(data)), slog.Any("error", err))
		return
	}
	switch frame.Kind {
	case FrameEvent:
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(frame.Event)
		}
	case FrameResponse:
		c.resolve(frame.Response)
	}
}

func (c *Client) resolve(resp ActionResponse) {
	echo := resp.Echo.String()
	if echo == "" {
		return
	}
	c.mu.Lock()
	p, ok := c.pending[echo]
	if ok {
		delete(c.pending, echo)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("drop unmatched response", slog.String("echo", echo))
		return
	}
	p.timer.Stop()
	p.done <- actionResult{resp: resp}
}

func (c *Client) reject(echo string, err error) {
	c.mu.Lock()
	p, ok := c.pending[echo]
	if ok {
		delete(c.pending, echo)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	p.done <- actionResult{err: err}
}

// remove drops a pending entry without resolving it. It reports whether the
// entry was still registered.
func (c *Client) remove(echo string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[echo]
	if ok {
		delete(c.pending, echo)
		p.timer.Stop()
	}
	return ok
}

// SendAction writes an action frame and waits for the response with the same
// echo. It returns a TransportError when the socket is closed or the write
// fails, ErrActionTimeout when no response arrives in time, and ErrStopped
// when the client is stopped while waiting.
func (c *Client) SendAction(ctx context.Context, action string, params any) (ActionResponse, error) {
	if params == nil {
		params = map[string]any{}
	}
	echo := strconv.FormatUint(c.seq.Add(1), 10)
	payload, err := json.Marshal(ActionRequest{Action: action, Params: params, Echo: echo})
	if err != nil {
		return ActionResponse{}, fmt.Errorf("onebot: encode %s: %w", action, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ActionResponse{}, ErrStopped
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ActionResponse{}, &TransportError{Op: "send", Err: ErrNotConnected}
	}
	p := &pendingAction{done: make(chan actionResult, 1)}
	p.timer = time.AfterFunc(c.timeout, func() {
		c.reject(echo, ErrActionTimeout)
	})
	c.pending[echo] = p
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		if c.remove(echo) {
			return ActionResponse{}, &TransportError{Op: "write", Err: err}
		}
		// Stop or the timeout already claimed the entry.
		r := <-p.done
		return r.resp, r.err
	}

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
		if c.remove(echo) {
			return ActionResponse{}, ctx.Err()
		}
		r := <-p.done
		return r.resp, r.err
	}
}

// Call implements Transport.
func (c *Client) Call(ctx context.Context, action string, params any) (ActionResponse, error) {
	return c.SendAction(ctx, action, params)
}

// Stop suppresses reconnection, rejects every pending action with ErrStopped,
// and closes the socket. It is idempotent and safe to call from callbacks.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		pending := c.pending
		c.pending = map[string]*pendingAction{}
		conn := c.conn
		started := c.started
		c.mu.Unlock()

		close(c.stopCh)
		for _, p := range pending {
			p.timer.Stop()
			p.done <- actionResult{err: ErrStopped}
		}
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		if !started {
			close(c.done)
		}
		c.logger.Info("stopped", slog.Int("rejected", len(pending)))
	})
}

// withAccessToken appends access_token to the query unless it is already present.
func withAccessToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("onebot: invalid url %q: %w", rawURL, err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return u.String(), nil
	}
	q := u.Query()
	if !q.Has("access_token") {
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
