package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type connectionEntry struct {
	config     ChannelConfig
	connection Connection
}

func (m *Manager) refresh(ctx context.Context) {
	// Serialize refresh calls so concurrent callers wait instead of silently skipping.
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.service == nil {
		return
	}
	configs := make([]ChannelConfig, 0)
	for _, channelType := range m.registry.Types() {
		items, err := m.service.ListConfigsByType(ctx, channelType)
		if err != nil {
			m.logger.Error("list configs failed", slog.String("channel", channelType.String()), slog.Any("error", err))
			continue
		}
		configs = append(configs, items...)
	}
	m.reconcile(ctx, configs)
}

func (m *Manager) reconcile(ctx context.Context, configs []ChannelConfig) {
	active := map[string]ChannelConfig{}
	for _, cfg := range configs {
		if cfg.ID == "" || cfg.Disabled {
			continue
		}
		active[cfg.ID] = cfg
		if err := m.ensureConnection(ctx, cfg, false); err != nil {
			m.logger.Error(
				"adapter start failed",
				slog.String("channel", cfg.ChannelType.String()),
				slog.String("config_id", cfg.ID),
				slog.Any("error", err),
			)
		}
	}

	m.mu.Lock()
	stale := make([]*connectionEntry, 0)
	for id, entry := range m.connections {
		if _, ok := active[id]; ok {
			continue
		}
		if entry != nil {
			stale = append(stale, entry)
		}
		delete(m.connections, id)
		delete(m.connectionMeta, id)
	}
	for id := range m.connectionMeta {
		if _, ok := active[id]; !ok {
			delete(m.connectionMeta, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range stale {
		m.logger.Info(
			"adapter stop",
			slog.String("channel", entry.config.ChannelType.String()),
			slog.String("config_id", entry.config.ID),
		)
		m.stopConnection(ctx, entry)
	}
}

// ensureConnection starts the connection for cfg. When force is false an
// existing connection with the same fingerprint is kept; otherwise the old
// connection is stopped before the new one starts.
func (m *Manager) ensureConnection(ctx context.Context, cfg ChannelConfig, force bool) error {
	receiver, ok := m.registry.GetReceiver(cfg.ChannelType)
	if !ok {
		err := fmt.Errorf("receiver not available")
		m.markConnectionStatus(cfg, false, err)
		return err
	}

	m.mu.Lock()
	entry := m.connections[cfg.ID]
	if entry != nil && !force && entry.config.Fingerprint == cfg.Fingerprint {
		running := entry.connection != nil && entry.connection.Running()
		entry.config = cfg
		m.setConnectionStatusLocked(cfg, running, nil)
		m.mu.Unlock()
		return nil
	}
	// Remove the entry while still holding the lock so a concurrent caller
	// cannot observe the old connection as live.
	if entry != nil {
		delete(m.connections, cfg.ID)
	}
	m.mu.Unlock()

	if entry != nil {
		m.logger.Info(
			"adapter restart",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
		)
		m.stopConnection(ctx, entry)
	}

	m.logger.Info(
		"adapter start",
		slog.String("channel", cfg.ChannelType.String()),
		slog.String("config_id", cfg.ID),
	)
	handler := m.handleInbound
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		handler = m.middlewares[i](handler)
	}
	connectCtx := context.Background()
	if ctx != nil {
		// Decouple long-lived adapter connections from short-lived request contexts.
		connectCtx = context.WithoutCancel(ctx)
	}
	conn, err := receiver.Connect(connectCtx, cfg, handler)
	if err != nil {
		m.markConnectionStatus(cfg, false, err)
		return err
	}

	m.mu.Lock()
	// Another caller may have started a connection for this ID while the lock
	// was released. The newest start wins; the displaced one is stopped.
	displaced := m.connections[cfg.ID]
	m.connections[cfg.ID] = &connectionEntry{
		config:     cfg,
		connection: conn,
	}
	m.setConnectionStatusLocked(cfg, true, nil)
	m.mu.Unlock()
	if displaced != nil {
		m.stopConnection(context.Background(), displaced)
	}
	return nil
}

// EnsureConnection starts the connection for the given config, replacing any
// live connection with the same ID. Disabled configs are stopped and removed.
func (m *Manager) EnsureConnection(ctx context.Context, cfg ChannelConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("config id is required")
	}
	if cfg.Disabled {
		return m.RemoveConnection(ctx, cfg.ID)
	}
	return m.ensureConnection(ctx, cfg, true)
}

// RemoveConnection stops and removes the connection with the given config ID.
func (m *Manager) RemoveConnection(ctx context.Context, configID string) error {
	m.mu.Lock()
	entry := m.connections[configID]
	delete(m.connections, configID)
	delete(m.connectionMeta, configID)
	m.mu.Unlock()
	if entry == nil {
		return nil
	}
	m.logger.Info(
		"connection remove",
		slog.String("channel", entry.config.ChannelType.String()),
		slog.String("config_id", configID),
	)
	return m.stopConnection(ctx, entry)
}

// Stop terminates the connection identified by the given config ID but keeps
// its status entry so operators can see that it is down.
func (m *Manager) Stop(ctx context.Context, configID string) error {
	configID = strings.TrimSpace(configID)
	if configID == "" {
		return fmt.Errorf("config id is required")
	}
	m.mu.Lock()
	entry := m.connections[configID]
	delete(m.connections, configID)
	m.mu.Unlock()
	if entry == nil {
		return nil
	}
	if err := m.stopConnection(ctx, entry); err != nil {
		return err
	}
	m.markConnectionStatus(entry.config, false, nil)
	return nil
}

// ActiveConnections returns the number of live connections.
func (m *Manager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.connections)
}

func (m *Manager) stopAll(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*connectionEntry, 0, len(m.connections))
	for id, entry := range m.connections {
		if entry != nil {
			entries = append(entries, entry)
		}
		delete(m.connections, id)
		delete(m.connectionMeta, id)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		m.logger.Info(
			"adapter stop",
			slog.String("channel", entry.config.ChannelType.String()),
			slog.String("config_id", entry.config.ID),
		)
		m.stopConnection(ctx, entry)
	}
}

func (m *Manager) stopConnection(ctx context.Context, entry *connectionEntry) error {
	if entry == nil || entry.connection == nil {
		return nil
	}
	err := entry.connection.Stop(ctx)
	if err != nil && !errors.Is(err, ErrStopNotSupported) {
		m.logger.Warn(
			"adapter stop failed",
			slog.String("channel", entry.config.ChannelType.String()),
			slog.String("config_id", entry.config.ID),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

func (m *Manager) markConnectionStatus(cfg ChannelConfig, running bool, checkErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setConnectionStatusLocked(cfg, running, checkErr)
}

func (m *Manager) setConnectionStatusLocked(cfg ChannelConfig, running bool, checkErr error) {
	if strings.TrimSpace(cfg.ID) == "" {
		return
	}
	previous, hasPrevious := m.connectionMeta[cfg.ID]
	status := ConnectionStatus{
		ConfigID:       cfg.ID,
		ChannelType:    cfg.ChannelType,
		Name:           cfg.Name,
		Running:        running,
		LastInboundAt:  previous.LastInboundAt,
		LastOutboundAt: previous.LastOutboundAt,
		UpdatedAt:      time.Now().UTC(),
	}
	if checkErr != nil {
		status.LastError = checkErr.Error()
	}
	m.connectionMeta[cfg.ID] = status
	if checkErr != nil && (!hasPrevious || previous.LastError != status.LastError || previous.Running != status.Running) {
		m.logger.Warn(
			"connection health check failed",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
			slog.Any("error", checkErr),
		)
	}
	if running && hasPrevious && strings.TrimSpace(previous.LastError) != "" {
		m.logger.Info(
			"connection health recovered",
			slog.String("channel", cfg.ChannelType.String()),
			slog.String("config_id", cfg.ID),
		)
	}
}
