package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ConfigLister lists channel configs for periodic refresh. Used by connection lifecycle.
type ConfigLister interface {
	ListConfigsByType(ctx context.Context, channelType ChannelType) ([]ChannelConfig, error)
}

// Middleware wraps an InboundHandler to add cross-cutting behavior.
type Middleware func(next InboundHandler) InboundHandler

// ConnectionStatus describes runtime status for one configured channel connection.
type ConnectionStatus struct {
	ConfigID       string      `json:"config_id"`
	ChannelType    ChannelType `json:"channel_type"`
	Name           string      `json:"name,omitempty"`
	Running        bool        `json:"running"`
	LastError      string      `json:"last_error,omitempty"`
	LastInboundAt  *time.Time  `json:"last_inbound_at,omitempty"`
	LastOutboundAt *time.Time  `json:"last_outbound_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Manager coordinates channel adapters, connection lifecycle, and message dispatch.
// It is the registry of live connections: at most one connection exists per
// config ID. Connection lifecycle lives in connection.go, inbound dispatch in
// inbound.go, and the reply path in outbound.go.
type Manager struct {
	registry        *Registry
	service         ConfigLister
	processor       InboundProcessor
	refreshInterval time.Duration
	logger          *slog.Logger
	middlewares     []Middleware

	mu             sync.Mutex
	refreshMu      sync.Mutex
	connections    map[string]*connectionEntry
	connectionMeta map[string]ConnectionStatus
}

// NewManager creates a Manager with the given logger, registry, config lister, and inbound processor.
func NewManager(log *slog.Logger, registry *Registry, service ConfigLister, processor InboundProcessor) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		registry:        registry,
		service:         service,
		processor:       processor,
		refreshInterval: time.Minute,
		connections:     map[string]*connectionEntry{},
		connectionMeta:  map[string]ConnectionStatus{},
		logger:          log.With(slog.String("component", "channel")),
		middlewares:     []Middleware{},
	}
}

// Registry returns the adapter registry used by this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Use appends middleware to the inbound processing chain.
func (m *Manager) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// SetRefreshInterval overrides how often Start reconciles connections.
func (m *Manager) SetRefreshInterval(interval time.Duration) {
	if interval > 0 {
		m.refreshInterval = interval
	}
}

// RegisterAdapter adds an adapter to the registry and logs the registration.
func (m *Manager) RegisterAdapter(adapter Adapter) {
	if adapter == nil {
		return
	}
	if err := m.registry.Register(adapter); err != nil {
		m.logger.Warn("adapter registration failed", slog.String("channel", adapter.Type().String()), slog.Any("error", err))
		return
	}
	m.logger.Info("adapter registered", slog.String("channel", adapter.Type().String()))
}

// Refresh performs a full reconcile of all adapter connections against the
// config lister. Connections whose fingerprint is unchanged are kept.
func (m *Manager) Refresh(ctx context.Context) {
	if ctx != nil {
		m.refresh(ctx)
	}
}

// Start begins the periodic config refresh loop.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("manager start")
	go func() {
		m.refresh(ctx)
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("manager stop")
				m.stopAll(context.WithoutCancel(ctx))
				return
			case <-ticker.C:
				m.refresh(ctx)
			}
		}
	}()
}

// Send delivers an outbound message through the connection identified by configID.
func (m *Manager) Send(ctx context.Context, configID string, channelType ChannelType, req SendRequest) error {
	if m.service == nil {
		return fmt.Errorf("channel manager not configured")
	}
	sender, ok := m.registry.GetSender(channelType)
	if !ok {
		return fmt.Errorf("unsupported channel type: %s", channelType)
	}
	cfg, err := m.findConfig(ctx, configID, channelType)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(req.Target)
	if target == "" {
		return fmt.Errorf("target is required")
	}
	if req.Message.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	m.logger.Info("send outbound", slog.String("channel", channelType.String()), slog.String("config_id", cfg.ID))
	return m.sendWithConfig(ctx, sender, cfg, OutboundMessage{Target: target, Message: req.Message})
}

func (m *Manager) findConfig(ctx context.Context, configID string, channelType ChannelType) (ChannelConfig, error) {
	configID = strings.TrimSpace(configID)
	items, err := m.service.ListConfigsByType(ctx, channelType)
	if err != nil {
		return ChannelConfig{}, err
	}
	for _, item := range items {
		if item.ID == configID {
			return item, nil
		}
	}
	return ChannelConfig{}, fmt.Errorf("channel config not found: %s", configID)
}

// Shutdown stops all active connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAll(ctx)
	return nil
}

// ConnectionStatuses returns observed connection statuses ordered by channel and config ID.
func (m *Manager) ConnectionStatuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ConnectionStatus, 0, len(m.connectionMeta))
	for _, status := range m.connectionMeta {
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChannelType == items[j].ChannelType {
			return items[i].ConfigID < items[j].ConfigID
		}
		return items[i].ChannelType < items[j].ChannelType
	})
	return items
}

// ConnectionStatus returns the observed status for one config ID.
func (m *Manager) ConnectionStatus(configID string) (ConnectionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.connectionMeta[strings.TrimSpace(configID)]
	return status, ok
}

// RecordActivity stores the latest inbound or outbound timestamp for a connection.
// Unknown config IDs are ignored.
func (m *Manager) RecordActivity(configID string, direction ActivityDirection, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.connectionMeta[configID]
	if !ok {
		return
	}
	ts := at.UTC()
	switch direction {
	case ActivityInbound:
		status.LastInboundAt = &ts
	case ActivityOutbound:
		status.LastOutboundAt = &ts
	default:
		return
	}
	m.connectionMeta[configID] = status
}
