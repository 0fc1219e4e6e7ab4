package channel

import (
	"context"
	"fmt"
	"log/slog"
)

// handleInbound hands an adapter-normalized message to the processor together
// with a reply sender bound to the originating connection.
func (m *Manager) handleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error {
	if m.processor == nil {
		return fmt.Errorf("inbound processor not configured")
	}
	if msg.Channel == "" {
		msg.Channel = cfg.ChannelType
	}
	if msg.AccountID == "" {
		msg.AccountID = cfg.ID
	}
	sender := m.newReplySender(cfg)
	if err := m.processor.HandleInbound(ctx, cfg, msg, sender); err != nil {
		m.logger.Error(
			"inbound processing failed",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
			slog.String("route_key", msg.RoutingKey()),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
