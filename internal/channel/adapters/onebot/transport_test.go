package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportFunc func(ctx context.Context, action string, params any) (ActionResponse, error)

func (f transportFunc) Call(ctx context.Context, action string, params any) (ActionResponse, error) {
	return f(ctx, action, params)
}

func failingTransport(err error) transportFunc {
	return func(context.Context, string, any) (ActionResponse, error) {
		return ActionResponse{}, err
	}
}

func countingTransport(calls *int) transportFunc {
	return func(context.Context, string, any) (ActionResponse, error) {
		*calls++
		return ActionResponse{Status: StatusOK}, nil
	}
}

func TestFallbackTransport(t *testing.T) {
	t.Parallel()

	transportErr := &TransportError{Op: "write", Err: errors.New("broken pipe")}
	tests := []struct {
		name      string
		primary   Transport
		secondary bool
		wantErr   error
		wantCalls int
	}{
		{name: "primary ok", primary: failingTransport(nil), secondary: true, wantCalls: 0},
		{name: "transport error falls back", primary: failingTransport(transportErr), secondary: true, wantCalls: 1},
		{name: "nil primary falls back", primary: nil, secondary: true, wantCalls: 1},
		{name: "timeout never falls back", primary: failingTransport(ErrActionTimeout), secondary: true, wantErr: ErrActionTimeout},
		{name: "stop never falls back", primary: failingTransport(ErrStopped), secondary: true, wantErr: ErrStopped},
		{name: "no secondary propagates", primary: failingTransport(transportErr), wantErr: transportErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			f := FallbackTransport{Primary: tt.primary}
			if tt.secondary {
				f.Secondary = countingTransport(&calls)
			}
			_, err := f.Call(context.Background(), "send_private_msg", nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestFallbackSkipsUnconfiguredHTTP(t *testing.T) {
	t.Parallel()

	f := FallbackTransport{Secondary: NewHTTPTransport("", "", nil)}
	_, err := f.Call(context.Background(), "get_status", nil)
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestInvokeReportsRemoteFailure(t *testing.T) {
	t.Parallel()

	tr := transportFunc(func(context.Context, string, any) (ActionResponse, error) {
		return ActionResponse{Status: StatusFailed, Retcode: 1400, Message: "bad request"}, nil
	})
	_, err := invoke(context.Background(), tr, "send_private_msg", nil)
	var failed *ActionFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 1400, failed.Retcode)
	assert.Equal(t, "send_private_msg", failed.Action)
}

func TestHTTPTransportCall(t *testing.T) {
	t.Parallel()

	var gotPath, gotToken, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("access_token")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "retcode": 0, "data": map[string]any{"message_id": 9}})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/", "tok", srv.Client())
	resp, err := tr.Call(context.Background(), "get_status", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "/get_status", gotPath)
	assert.Equal(t, "tok", gotToken)
	assert.JSONEq(t, `{}`, gotBody)

	_, err = tr.Call(context.Background(), "send_private_msg", map[string]any{"user_id": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":1}`, gotBody)
}

func TestHTTPTransportKeepsExistingToken(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotTokens []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTokens = r.URL.Query()["access_token"]
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "retcode": 0})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/api?access_token=inline", "configured", srv.Client())
	_, err := tr.Call(context.Background(), "get_status", nil)
	require.NoError(t, err)
	assert.Equal(t, "/api/get_status", gotPath)
	assert.Equal(t, []string{"inline"}, gotTokens)
}

func TestHTTPTransportErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(srv.URL, "", srv.Client()).Call(context.Background(), "get_status", nil)
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Equal(t, "forbidden", statusErr.Body)
	assert.False(t, IsTransportError(err))

	_, err = NewHTTPTransport("", "", nil).Call(context.Background(), "get_status", nil)
	assert.ErrorIs(t, err, ErrHTTPNotConfigured)
}
