// Package backend forwards authorized inbound messages to the chat-bot
// backend and delivers its replies back through the channel.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/config"
)

// silentReplyToken marks a reply the backend wants suppressed.
const silentReplyToken = "NO_REPLY"

// ErrNotConfigured is returned when [backend] url is unset.
var ErrNotConfigured = errors.New("backend url not configured")

// Request is the envelope posted to the backend.
type Request struct {
	Channel     string               `json:"channel"`
	AccountID   string               `json:"account_id"`
	AgentID     string               `json:"agent_id,omitempty"`
	SessionKey  string               `json:"session_key"`
	Sender      channel.Identity     `json:"sender"`
	MessageID   string               `json:"message_id,omitempty"`
	Body        string               `json:"body"`
	Attachments []channel.Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time            `json:"received_at"`
}

// Reply is one message the backend wants sent to the peer.
type Reply struct {
	Text  string               `json:"text"`
	Media []channel.Attachment `json:"media,omitempty"`
}

// Response is the backend's answer to a Request.
type Response struct {
	Replies []Reply `json:"replies"`
}

// Dispatcher implements channel.InboundProcessor against an HTTP backend.
type Dispatcher struct {
	provider *config.Provider
	client   *http.Client
	logger   *slog.Logger
}

// NewDispatcher returns a dispatcher reading [backend] from provider on every call.
func NewDispatcher(log *slog.Logger, provider *config.Provider, client *http.Client) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		provider: provider,
		client:   client,
		logger:   log.With(slog.String("component", "backend")),
	}
}

// HandleInbound posts msg to the backend and sends its replies in order. A
// failed reply is logged and the rest are still sent.
func (d *Dispatcher) HandleInbound(ctx context.Context, cfg channel.ChannelConfig, msg channel.InboundMessage, sender channel.ReplySender) error {
	if sender == nil {
		return fmt.Errorf("reply sender not configured")
	}
	resp, err := d.post(ctx, buildRequest(msg))
	if err != nil {
		return err
	}
	var errs []error
	for i, reply := range resp.Replies {
		out := channel.Message{Text: reply.Text, Attachments: reply.Media}
		if len(reply.Media) == 0 && isSilentReplyText(reply.Text) {
			continue
		}
		if out.IsEmpty() {
			continue
		}
		if err := sender.Send(ctx, channel.OutboundMessage{Target: msg.ReplyTarget, Message: out}); err != nil {
			d.logger.Warn("deliver reply failed",
				slog.String("config_id", cfg.ID),
				slog.String("session_key", msg.RoutingKey()),
				slog.Int("reply", i),
				slog.Any("error", err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildRequest(msg channel.InboundMessage) Request {
	return Request{
		Channel:     msg.Channel.String(),
		AccountID:   msg.AccountID,
		AgentID:     msg.AgentID,
		SessionKey:  msg.RoutingKey(),
		Sender:      msg.Sender,
		MessageID:   msg.Message.ID,
		Body:        msg.Body,
		Attachments: msg.Message.Attachments,
		ReceivedAt:  msg.ReceivedAt,
	}
}

func (d *Dispatcher) post(ctx context.Context, payload Request) (Response, error) {
	cfg := d.provider.Current().Backend
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return Response{}, ErrNotConfigured
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultBackendTimeout * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode backend request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(cfg.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Response{}, fmt.Errorf("backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if resp.StatusCode == http.StatusNoContent {
		return Response{}, nil
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return Response{}, fmt.Errorf("decode backend response: %w", err)
	}
	d.logger.Debug("backend replied",
		slog.String("session_key", payload.SessionKey),
		slog.Int("replies", len(out.Replies)),
		slog.Duration("latency", time.Since(started)),
	)
	return out, nil
}

// isSilentReplyText reports whether text starts or ends with the silent token.
func isSilentReplyText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	return strings.HasPrefix(trimmed, silentReplyToken) || strings.HasSuffix(trimmed, silentReplyToken)
}
