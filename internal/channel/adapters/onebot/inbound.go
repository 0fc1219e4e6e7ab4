package onebot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/route"
	"github.com/memohai/onebot/internal/store"
)

const (
	postTypeMessage    = "message"
	messageTypePrivate = "private"
)

// isPrivateMessage reports whether ev is a private message event.
func isPrivateMessage(ev Event) bool {
	return ev.PostType == postTypeMessage && ev.MessageType == messageTypePrivate
}

// MediaSummary describes a media-only message, e.g. "sent 2 image attachments".
// Mixed kinds are summarized as media.
func MediaSummary(media []channel.Attachment) string {
	if len(media) == 0 {
		return ""
	}
	kind := string(media[0].Type)
	for _, att := range media[1:] {
		if string(att.Type) != kind {
			kind = "media"
			break
		}
	}
	if kind == "" {
		kind = "media"
	}
	noun := "attachment"
	if len(media) > 1 {
		noun = "attachments"
	}
	return fmt.Sprintf("sent %d %s %s", len(media), kind, noun)
}

// handleEvent runs one event through filtering, the access policy, and
// dispatch. Each event is handled on its own goroutine.
func (a *Adapter) handleEvent(ctx context.Context, cfg channel.ChannelConfig, conn *accountConn, ev Event, handler channel.InboundHandler) {
	if !isPrivateMessage(ev) {
		return
	}
	senderID := ev.UserID.String()
	if senderID == "" {
		senderID = ev.Sender.UserID.String()
	}
	if senderID == "" {
		return
	}
	selfID := ev.SelfID.String()
	if selfID == "" {
		selfID = conn.self()
	}
	if selfID != "" && senderID == selfID {
		return
	}

	account := a.accounts.Account(cfg.ID)
	log := a.logger.With(slog.String("account_id", account.AccountID), slog.String("sender_id", senderID))

	normalized, err := ParseMessage(ev.Message)
	if err != nil {
		log.Warn("decode message failed", slog.Any("error", err))
	}
	if normalized.Text == "" && len(normalized.Media) == 0 && ev.RawMessage != "" {
		normalized.Text = ev.RawMessage
	}

	decision := Evaluate(account.DMPolicy, a.isAllowed(ctx, account, senderID))
	switch decision {
	case DecisionDrop:
		log.Debug("inbound dropped by policy", slog.String("dm_policy", string(account.DMPolicy)))
		return
	case DecisionPair:
		a.requestPairing(ctx, account, conn, ev, senderID)
		return
	}

	msg := a.buildInbound(account, ev, senderID, normalized)
	a.resolveRoute(ctx, &msg, log)
	a.recordInbound(ctx, msg, log)
	if a.activity != nil {
		a.activity.RecordActivity(account.AccountID, channel.ActivityInbound, a.now())
	}
	log.Info("inbound received",
		slog.String("message_id", msg.Message.ID),
		slog.Int("media", len(msg.Message.Attachments)),
	)
	if err := handler(ctx, cfg, msg); err != nil {
		log.Error("handle inbound failed", slog.Any("error", err))
	}
}

// isAllowed checks the configured and stored allow-lists. The stored list is
// only read for policies that consult it.
func (a *Adapter) isAllowed(ctx context.Context, account ResolvedAccount, senderID string) bool {
	if account.DMPolicy != DMPolicyAllowlist && account.DMPolicy != DMPolicyPairing {
		return false
	}
	if Allowed(senderID, account.AllowFrom) {
		return true
	}
	if a.allowList == nil {
		return false
	}
	stored, err := a.allowList.ReadAllowFrom(ctx, Type.String(), account.AccountID)
	if err != nil {
		a.logger.Warn("read allow list failed",
			slog.String("account_id", account.AccountID),
			slog.Any("error", err),
		)
		return false
	}
	return Allowed(senderID, stored)
}

func (a *Adapter) requestPairing(ctx context.Context, account ResolvedAccount, conn *accountConn, ev Event, senderID string) {
	log := a.logger.With(slog.String("account_id", account.AccountID), slog.String("sender_id", senderID))
	if a.pairing == nil {
		log.Warn("pairing store not configured, dropping message")
		return
	}
	req, created, err := a.pairing.UpsertPairingRequest(ctx, store.PairingInput{
		Channel:     Type.String(),
		AccountID:   account.AccountID,
		SenderID:    NormalizeSender(senderID),
		DisplayName: senderName(ev),
	})
	if err != nil {
		log.Error("upsert pairing request failed", slog.Any("error", err))
		return
	}
	if !created {
		log.Debug("pairing request pending", slog.String("code", req.Code))
		return
	}
	reply := FormatPairingReply(req.SenderID, req.Code)
	if err := a.sendSegments(ctx, account, a.transportFor(account, conn.client), senderID, BuildSegments(reply)); err != nil {
		log.Warn("send pairing reply failed", slog.Any("error", err))
		return
	}
	log.Info("pairing requested", slog.String("code", req.Code))
}

func (a *Adapter) buildInbound(account ResolvedAccount, ev Event, senderID string, normalized NormalizedMessage) channel.InboundMessage {
	receivedAt := a.now()
	if ev.Time > 0 {
		receivedAt = time.Unix(ev.Time, 0)
	}
	body := normalized.Text
	if strings.TrimSpace(body) == "" {
		body = MediaSummary(normalized.Media)
	}
	metadata := map[string]any{
		"sub_type": ev.SubType,
	}
	if ev.SelfID != "" {
		metadata["self_id"] = ev.SelfID.String()
	}
	return channel.InboundMessage{
		Channel:   Type,
		AccountID: account.AccountID,
		Message: channel.Message{
			ID:          ev.MessageID.String(),
			Text:        normalized.Text,
			Attachments: normalized.Media,
		},
		Body:        body,
		ReplyTarget: senderID,
		Sender: channel.Identity{
			SubjectID:   senderID,
			DisplayName: senderName(ev),
		},
		ReceivedAt: receivedAt,
		Metadata:   metadata,
	}
}

func (a *Adapter) resolveRoute(ctx context.Context, msg *channel.InboundMessage, log *slog.Logger) {
	if a.router == nil {
		return
	}
	resolved, err := a.router.Resolve(ctx, route.Input{
		Channel:   msg.Channel.String(),
		AccountID: msg.AccountID,
		PeerID:    NormalizeSender(msg.Sender.SubjectID),
	})
	if err != nil {
		log.Warn("resolve route failed", slog.Any("error", err))
		return
	}
	msg.AgentID = resolved.AgentID
	msg.SessionKey = resolved.SessionKey
}

func (a *Adapter) recordInbound(ctx context.Context, msg channel.InboundMessage, log *slog.Logger) {
	if a.sessions == nil {
		return
	}
	err := a.sessions.RecordInbound(ctx, store.InboundRecord{
		Channel:    msg.Channel.String(),
		AccountID:  msg.AccountID,
		SessionKey: msg.RoutingKey(),
		AgentID:    msg.AgentID,
		SenderID:   msg.Sender.SubjectID,
		SenderName: msg.Sender.DisplayName,
		MessageID:  msg.Message.ID,
		Body:       msg.Body,
		ReceivedAt: msg.ReceivedAt,
	})
	if err != nil {
		log.Warn("record inbound failed", slog.Any("error", err))
	}
}

func senderName(ev Event) string {
	if name := strings.TrimSpace(ev.Sender.Card); name != "" {
		return name
	}
	return strings.TrimSpace(ev.Sender.Nickname)
}
