package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxErrorBody = 512

// HTTPTransport posts actions to the gateway's HTTP endpoint. It carries no
// timeout of its own; the caller's context bounds each call.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPTransport builds a transport for baseURL. A nil client means
// http.DefaultClient. An empty baseURL yields a transport whose calls fail
// with ErrHTTPNotConfigured.
func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  client,
	}
}

// Configured reports whether a base URL is set.
func (t *HTTPTransport) Configured() bool {
	return t != nil && t.baseURL != ""
}

// Call posts params (or {}) as JSON to <base>/<action>.
func (t *HTTPTransport) Call(ctx context.Context, action string, params any) (ActionResponse, error) {
	if !t.Configured() {
		return ActionResponse{}, ErrHTTPNotConfigured
	}
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return ActionResponse{}, fmt.Errorf("onebot: encode %s: %w", action, err)
	}
	endpoint, err := t.endpoint(action)
	if err != nil {
		return ActionResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ActionResponse{}, fmt.Errorf("onebot: build http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return ActionResponse{}, fmt.Errorf("onebot: http %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ActionResponse{}, &HTTPStatusError{
			Action:     action,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	var out ActionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ActionResponse{}, fmt.Errorf("onebot: decode http %s response: %w", action, err)
	}
	return out, nil
}

// endpoint appends action to the base path, keeping any query the base
// already carries, and adds the access token unless one is present.
func (t *HTTPTransport) endpoint(action string) (string, error) {
	base, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("onebot: invalid http url %q: %w", t.baseURL, err)
	}
	return withAccessToken(base.JoinPath(action).String(), t.token)
}
