package onebot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/memohai/onebot/internal/channel"
)

const actionSendPrivateMsg = "send_private_msg"

// deliver sends msg to target as an ordered series of actions: text chunks,
// then one action per media item with the caption on the first. A failure
// on the first action aborts the delivery; later failures are logged and
// the remaining actions still run.
func (a *Adapter) deliver(ctx context.Context, account ResolvedAccount, transport Transport, target string, msg channel.Message) error {
	steps := a.plan(ctx, account, msg)
	if len(steps) == 0 {
		return nil
	}
	log := a.logger.With(slog.String("account_id", account.AccountID), slog.String("target", target))
	var errs []error
	for i, segments := range steps {
		err := a.sendSegments(ctx, account, transport, target, segments)
		if err == nil {
			continue
		}
		if i == 0 {
			return err
		}
		log.Warn("send step failed", slog.Int("step", i), slog.Int("steps", len(steps)), slog.Any("error", err))
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// plan turns a message into the segment arrays of each outbound action.
func (a *Adapter) plan(ctx context.Context, account ResolvedAccount, msg channel.Message) [][]Segment {
	policy := account.OutboundPolicy()
	var media []channel.Attachment
	for _, att := range msg.Attachments {
		if att.HasReference() {
			media = append(media, att)
		}
	}

	var steps [][]Segment
	text := msg.Text
	if len(media) == 0 {
		for _, chunk := range policy.Chunk(text) {
			steps = append(steps, BuildSegments(chunk))
		}
		return steps
	}

	caption := text
	if utf8.RuneCountInString(caption) > policy.TextChunkLimit {
		for _, chunk := range policy.Chunk(caption) {
			steps = append(steps, BuildSegments(chunk))
		}
		caption = ""
	}
	resolver := MediaResolver{Detector: a.detector, MaxBytes: account.MediaMaxBytes(), Logger: a.logger}
	for i, att := range media {
		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		ref := att.Reference()
		kind := att.Type
		if kind == "" {
			resolved, ok := resolver.Resolve(ctx, ref)
			if !ok {
				fallback := ref
				if itemCaption != "" {
					fallback = itemCaption + "\n" + ref
				}
				for _, chunk := range policy.Chunk(fallback) {
					steps = append(steps, BuildSegments(chunk))
				}
				continue
			}
			kind = resolved
		}
		steps = append(steps, BuildSegments(itemCaption, channel.Attachment{Type: kind, URL: ref}))
	}
	return steps
}

// sendSegments issues one send_private_msg and records outbound activity on success.
func (a *Adapter) sendSegments(ctx context.Context, account ResolvedAccount, transport Transport, target string, segments []Segment) error {
	params := map[string]any{
		"user_id": userIDParam(target),
		"message": segments,
	}
	if _, err := invoke(ctx, transport, actionSendPrivateMsg, params); err != nil {
		return err
	}
	if a.activity != nil {
		a.activity.RecordActivity(account.AccountID, channel.ActivityOutbound, a.now())
	}
	return nil
}

// userIDParam sends numeric ids as numbers, which gateways expect.
func userIDParam(target string) any {
	id := NormalizeSender(target)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
