package channel

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler is a callback invoked when a message arrives from a channel.
type InboundHandler func(ctx context.Context, cfg ChannelConfig, msg InboundMessage) error

// ReplySender sends replies within a single inbound-processing scope.
type ReplySender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// InboundProcessor handles an authorized inbound message. It is given a
// sender bound to the originating account for delivering replies.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, cfg ChannelConfig, msg InboundMessage, sender ReplySender) error
}

// ActivityDirection distinguishes inbound from outbound traffic.
type ActivityDirection string

const (
	ActivityInbound  ActivityDirection = "inbound"
	ActivityOutbound ActivityDirection = "outbound"
)

// ActivityRecorder receives per-account traffic timestamps.
type ActivityRecorder interface {
	RecordActivity(configID string, direction ActivityDirection, at time.Time)
}

// Adapter is the base interface every channel adapter must implement.
type Adapter interface {
	Type() ChannelType
	Descriptor() Descriptor
}

// Descriptor holds read-only metadata for a registered channel type.
type Descriptor struct {
	Type           ChannelType
	DisplayName    string
	Capabilities   ChannelCapabilities
	OutboundPolicy OutboundPolicy
}

// ChannelCapabilities lists the message shapes an adapter can deliver.
type ChannelCapabilities struct {
	Text        bool `json:"text"`
	Attachments bool `json:"attachments"`
	Media       bool `json:"media"`
}

// Sender is an adapter capable of sending outbound messages.
type Sender interface {
	Send(ctx context.Context, cfg ChannelConfig, msg OutboundMessage) error
}

// Receiver is an adapter capable of establishing a long-lived connection to receive messages.
type Receiver interface {
	Connect(ctx context.Context, cfg ChannelConfig, handler InboundHandler) (Connection, error)
}

// Connection represents an active, long-lived link to a channel platform.
type Connection interface {
	ConfigID() string
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	configID    string
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

// NewConnection creates a BaseConnection for the given config and stop function.
func NewConnection(cfg ChannelConfig, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		configID:    cfg.ID,
		channelType: cfg.ChannelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

// ConfigID returns the channel configuration identifier.
func (c *BaseConnection) ConfigID() string {
	return c.configID
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.running.Store(false)
	return c.stop(ctx)
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
