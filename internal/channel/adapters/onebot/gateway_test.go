package onebot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wireRequest is an action frame as the gateway sees it.
type wireRequest struct {
	Action string          `json:"action"`
	Params json.RawMessage `json:"params"`
	Echo   string          `json:"echo"`
}

type gatewayConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *gatewayConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *gatewayConn) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *gatewayConn) close() {
	_ = c.ws.Close()
}

// fakeGateway is a OneBot websocket endpoint. Every action frame it reads is
// published on requests; respond, when set, answers it automatically.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *gatewayConn
	requests chan wireRequest
	respond  func(req wireRequest) (map[string]any, bool)

	mu      sync.Mutex
	queries []url.Values
}

func newFakeGateway(t *testing.T, respond func(req wireRequest) (map[string]any, bool)) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		conns:    make(chan *gatewayConn, 8),
		requests: make(chan wireRequest, 64),
		respond:  respond,
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.queries = append(g.queries, r.URL.Query())
	g.mu.Unlock()

	conn := &gatewayConn{ws: ws}
	g.conns <- conn
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req wireRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		g.requests <- req
		if g.respond != nil {
			if resp, ok := g.respond(req); ok {
				resp["echo"] = req.Echo
				_ = conn.writeJSON(resp)
			}
		}
	}
}

func (g *fakeGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) query(i int) url.Values {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i >= len(g.queries) {
		return nil
	}
	return g.queries[i]
}

func (g *fakeGateway) nextConn(t *testing.T) *gatewayConn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gateway connection")
		return nil
	}
}

func (g *fakeGateway) nextRequest(t *testing.T) wireRequest {
	t.Helper()
	select {
	case r := <-g.requests:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for action request")
		return wireRequest{}
	}
}
