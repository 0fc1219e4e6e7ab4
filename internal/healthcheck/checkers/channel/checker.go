package channelchecker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/memohai/onebot/internal/channel"
	"github.com/memohai/onebot/internal/healthcheck"
)

const checkTypeChannelConnection = "channel.connection"

// ConnectionObserver reads runtime channel connection statuses.
type ConnectionObserver interface {
	ConnectionStatuses() []channel.ConnectionStatus
}

// LinkProber reports whether a running connection currently has its
// transport link up. A connection can be running while it reconnects.
type LinkProber interface {
	LinkUp(configID string) bool
}

// Checker evaluates channel connection health checks.
type Checker struct {
	logger   *slog.Logger
	observer ConnectionObserver
	prober   LinkProber
}

// NewChecker creates a channel health checker. prober may be nil.
func NewChecker(log *slog.Logger, observer ConnectionObserver, prober LinkProber) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:   log.With(slog.String("checker", "healthcheck_channel")),
		observer: observer,
		prober:   prober,
	}
}

// ListChecks evaluates every observed connection.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	// Connection observer is context-free; best effort early cancellation guard.
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	if c.observer == nil {
		c.logger.Warn("channel healthcheck dependency is unavailable")
		return []healthcheck.CheckResult{
			{
				ID:      checkTypeChannelConnection + ".service",
				Type:    checkTypeChannelConnection,
				Status:  healthcheck.StatusWarn,
				Summary: "Channel checker service is not available.",
				Detail:  "connection observer is nil",
			},
		}
	}

	statuses := c.observer.ConnectionStatuses()
	if len(statuses) == 0 {
		return []healthcheck.CheckResult{}
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].ChannelType == statuses[j].ChannelType {
			return statuses[i].ConfigID < statuses[j].ConfigID
		}
		return statuses[i].ChannelType < statuses[j].ChannelType
	})

	checks := make([]healthcheck.CheckResult, 0, len(statuses))
	for idx, status := range statuses {
		channelType := strings.TrimSpace(status.ChannelType.String())
		if channelType == "" {
			channelType = "unknown"
		}
		item := healthcheck.CheckResult{
			ID:       buildCheckID(status.ConfigID, idx),
			Type:     checkTypeChannelConnection,
			Subtitle: buildSubtitle(channelType, status.ConfigID),
			Status:   healthcheck.StatusError,
			Summary:  fmt.Sprintf("Channel %s connection is down.", channelType),
			Metadata: map[string]any{
				"config_id":    status.ConfigID,
				"channel_type": channelType,
				"running":      status.Running,
			},
		}
		if status.UpdatedAt.Unix() > 0 {
			item.Metadata["updated_at"] = status.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		if status.LastInboundAt != nil {
			item.Metadata["last_inbound_at"] = status.LastInboundAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		switch {
		case status.Running && c.prober != nil && !c.prober.LinkUp(status.ConfigID):
			item.Status = healthcheck.StatusWarn
			item.Summary = fmt.Sprintf("Channel %s is reconnecting.", channelType)
		case status.Running:
			item.Status = healthcheck.StatusOK
			item.Summary = fmt.Sprintf("Channel %s is connected.", channelType)
		case strings.TrimSpace(status.LastError) != "":
			item.Summary = fmt.Sprintf("Channel %s connection failed.", channelType)
			item.Detail = strings.TrimSpace(status.LastError)
		}
		checks = append(checks, item)
	}
	return checks
}

func buildCheckID(configID string, idx int) string {
	configID = strings.TrimSpace(configID)
	if configID != "" {
		return checkTypeChannelConnection + "." + configID
	}
	return fmt.Sprintf("%s.unknown_%d", checkTypeChannelConnection, idx+1)
}

func buildSubtitle(channelType, configID string) string {
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return channelType
	}
	if len(configID) > 16 {
		configID = configID[:16]
	}
	return channelType + " (" + configID + ")"
}
