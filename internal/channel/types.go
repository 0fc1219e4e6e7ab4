// Package channel provides a unified abstraction for messaging channels.
// It defines types, interfaces, and a registry for channel adapters such as OneBot.
package channel

import (
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "onebot").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	SubjectID   string `json:"id"`
	DisplayName string `json:"name,omitempty"`
}

// InboundMessage is a normalized message received from an external channel.
type InboundMessage struct {
	Channel   ChannelType `json:"channel"`
	AccountID string      `json:"account_id"`
	Message   Message     `json:"message"`
	// Body is the text handed to the backend. For media-only messages it is a
	// synthesized attachment summary.
	Body        string         `json:"body"`
	ReplyTarget string         `json:"reply_target"`
	Sender      Identity       `json:"sender"`
	AgentID     string         `json:"agent_id,omitempty"`
	SessionKey  string         `json:"session_key,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RoutingKey returns a stable identifier used for reply routing.
// Format: platform:account_id:sender_id, unless a session key was resolved.
func (m InboundMessage) RoutingKey() string {
	if key := strings.TrimSpace(m.SessionKey); key != "" {
		return key
	}
	return strings.Join([]string{m.Channel.String(), m.AccountID, strings.TrimSpace(m.Sender.SubjectID)}, ":")
}

// OutboundMessage pairs a delivery target with the message content.
type OutboundMessage struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}

// AttachmentType classifies the kind of media attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
)

// Attachment is a media reference carried by a message. An empty Type on an
// outbound attachment means the adapter has to classify it.
type Attachment struct {
	Type AttachmentType `json:"type,omitempty"`
	URL  string         `json:"url"`
}

// Reference returns the trimmed attachment reference.
func (a Attachment) Reference() string {
	return strings.TrimSpace(a.URL)
}

// HasReference reports whether a reference is available.
func (a Attachment) HasReference() bool {
	return a.Reference() != ""
}

// Message is the unified message structure used across all channels.
type Message struct {
	ID          string         `json:"id,omitempty"`
	Text        string         `json:"text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsEmpty reports whether the message carries no content.
func (m Message) IsEmpty() bool {
	if strings.TrimSpace(m.Text) != "" {
		return false
	}
	for _, att := range m.Attachments {
		if att.HasReference() {
			return false
		}
	}
	return true
}

// ChannelConfig identifies one account connection managed by the channel layer.
// Adapters resolve the full account settings from live configuration on every
// use; Fingerprint only changes when the connection itself has to be rebuilt.
// Disabled: true means the account is stopped (not connected).
type ChannelConfig struct {
	ID          string      `json:"id"`
	ChannelType ChannelType `json:"channel_type"`
	Name        string      `json:"name,omitempty"`
	Fingerprint string      `json:"-"`
	Disabled    bool        `json:"disabled"`
}

// SendRequest is the input for sending an outbound message through a channel.
type SendRequest struct {
	Target  string  `json:"target"`
	Message Message `json:"message"`
}
