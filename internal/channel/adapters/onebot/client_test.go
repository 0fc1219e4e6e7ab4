package onebot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestClient(t *testing.T, g *fakeGateway, opts ClientOptions) *Client {
	t.Helper()
	opts.WSURL = g.wsURL()
	c, err := NewClient(opts)
	require.NoError(t, err)
	c.backoff = func(int) time.Duration { return 10 * time.Millisecond }
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	require.Eventually(t, c.IsConnected, 5*time.Second, 5*time.Millisecond)
	return c
}

func TestReconnectDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 15 * time.Second},
		{5, 15 * time.Second},
		{40, 15 * time.Second},
		{-1, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReconnectDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientOptions{WSURL: "  "})
	assert.ErrorIs(t, err, ErrMissingURL)
}

func TestWithAccessToken(t *testing.T) {
	t.Parallel()

	got, err := withAccessToken("ws://host:6700/ws", "tok")
	require.NoError(t, err)
	assert.Equal(t, "ws://host:6700/ws?access_token=tok", got)

	got, err = withAccessToken("ws://host/ws?access_token=keep", "tok")
	require.NoError(t, err)
	assert.Equal(t, "ws://host/ws?access_token=keep", got)

	got, err = withAccessToken("ws://host/ws", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://host/ws", got)
}

func TestClientAppendsAccessToken(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	startTestClient(t, g, ClientOptions{AccessToken: "secret"})
	g.nextConn(t)

	assert.Equal(t, "secret", g.query(0).Get("access_token"))
}

func TestSendActionCorrelatesConcurrentResponses(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	c := startTestClient(t, g, ClientOptions{})
	conn := g.nextConn(t)

	actions := []string{"get_status", "get_version_info"}
	results := make([]ActionResponse, len(actions))
	errs := make([]error, len(actions))
	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.SendAction(context.Background(), action, nil)
		}()
	}

	first := g.nextRequest(t)
	second := g.nextRequest(t)
	assert.NotEqual(t, first.Echo, second.Echo)
	// Answer in reverse order, with a stray response in between.
	for _, req := range []wireRequest{second, {Echo: "does-not-exist"}, first} {
		require.NoError(t, conn.writeJSON(map[string]any{
			"status":  StatusOK,
			"retcode": 0,
			"data":    map[string]any{"action": req.Action},
			"echo":    req.Echo,
		}))
	}
	wg.Wait()

	for i, action := range actions {
		require.NoError(t, errs[i])
		var data struct {
			Action string `json:"action"`
		}
		require.NoError(t, results[i].Decode(&data))
		assert.Equal(t, action, data.Action)
	}
}

func TestSendActionUsesMonotonicEcho(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, func(wireRequest) (map[string]any, bool) {
		return map[string]any{"status": StatusOK, "retcode": 0}, true
	})
	c := startTestClient(t, g, ClientOptions{})

	for _, want := range []string{"1", "2", "3"} {
		_, err := c.SendAction(context.Background(), "get_status", nil)
		require.NoError(t, err)
		req := g.nextRequest(t)
		assert.Equal(t, want, req.Echo)
		assert.JSONEq(t, `{}`, string(req.Params))
	}
}

func TestSendActionTimeout(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	c := startTestClient(t, g, ClientOptions{ActionTimeout: 50 * time.Millisecond})

	_, err := c.SendAction(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrActionTimeout)
	assert.False(t, IsTransportError(err))

	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}

func TestSendActionNotConnected(t *testing.T) {
	t.Parallel()

	c, err := NewClient(ClientOptions{WSURL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)
	defer c.Stop()

	_, err = c.SendAction(context.Background(), "get_status", nil)
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStopRejectsPendingOnce(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	c := startTestClient(t, g, ClientOptions{})

	const inFlight = 3
	errs := make(chan error, inFlight)
	for i := 0; i < inFlight; i++ {
		go func() {
			_, err := c.SendAction(context.Background(), "get_status", nil)
			errs <- err
		}()
	}
	for i := 0; i < inFlight; i++ {
		g.nextRequest(t)
	}

	c.Stop()
	c.Stop()

	for i := 0; i < inFlight; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, ErrStopped)
		case <-time.After(5 * time.Second):
			t.Fatal("pending action not rejected")
		}
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected extra result: %v", err)
	default:
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit")
	}
	assert.False(t, c.IsConnected())
	_, err := c.SendAction(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	c, err := NewClient(ClientOptions{WSURL: "ws://127.0.0.1:1/ws"})
	require.NoError(t, err)
	c.Stop()

	<-c.Done()
	assert.ErrorIs(t, c.Start(context.Background()), ErrStopped)
}

func TestClientReconnectsAfterClose(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	var connected, disconnected atomic.Int32
	c := startTestClient(t, g, ClientOptions{
		OnConnected:    func() { connected.Add(1) },
		OnDisconnected: func(error) { disconnected.Add(1) },
	})

	g.nextConn(t).close()
	g.nextConn(t)

	require.Eventually(t, func() bool {
		return connected.Load() == 2 && c.IsConnected()
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), disconnected.Load())

	c.mu.Lock()
	assert.Equal(t, 0, c.attempts)
	c.mu.Unlock()
}

func TestStopFromDisconnectCallback(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	var current atomic.Pointer[Client]
	stopped := make(chan struct{})
	c := startTestClient(t, g, ClientOptions{
		OnDisconnected: func(error) {
			current.Load().Stop()
			close(stopped)
		},
	})
	current.Store(c)

	g.nextConn(t).close()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect callback not invoked")
	}
	<-c.Done()

	select {
	case <-g.conns:
		t.Fatal("client reconnected after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientForwardsEventsAndDropsGarbage(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	events := make(chan Event, 4)
	startTestClient(t, g, ClientOptions{
		OnEvent: func(ev Event) { events <- ev },
	})
	conn := g.nextConn(t)

	require.NoError(t, conn.writeRaw([]byte("not json")))
	require.NoError(t, conn.writeJSON(map[string]any{"hello": "world"}))
	require.NoError(t, conn.writeJSON(map[string]any{
		"post_type":    "message",
		"message_type": "private",
		"user_id":      123,
		"self_id":      999,
		"message":      "hi",
	}))

	select {
	case ev := <-events:
		assert.Equal(t, "message", ev.PostType)
		assert.Equal(t, ID("123"), ev.UserID)
		assert.Equal(t, ID("999"), ev.SelfID)
		assert.NotEmpty(t, ev.Raw)
	case <-time.After(5 * time.Second):
		t.Fatal("event not forwarded")
	}
}

func TestSendActionContextCancel(t *testing.T) {
	t.Parallel()

	g := newFakeGateway(t, nil)
	c := startTestClient(t, g, ClientOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.SendAction(ctx, "get_status", nil)
		done <- err
	}()
	g.nextRequest(t)
	cancel()

	err := <-done
	assert.True(t, errors.Is(err, context.Canceled))
	c.mu.Lock()
	assert.Empty(t, c.pending)
	c.mu.Unlock()
}
