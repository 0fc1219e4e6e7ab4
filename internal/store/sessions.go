package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit bounds list queries that are given no limit.
const DefaultListLimit = 50

// InboundRecord is one authorized inbound message.
type InboundRecord struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	AccountID  string    `json:"account_id"`
	SessionKey string    `json:"session_key"`
	AgentID    string    `json:"agent_id,omitempty"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

// SessionSummary aggregates the records of one session.
type SessionSummary struct {
	SessionKey     string    `json:"session_key"`
	Channel        string    `json:"channel"`
	AccountID      string    `json:"account_id"`
	SenderID       string    `json:"sender_id"`
	Messages       int       `json:"messages"`
	LastReceivedAt time.Time `json:"last_received_at"`
}

// RecordInbound stores rec, assigning an id and timestamp when missing.
func (s *Store) RecordInbound(ctx context.Context, rec InboundRecord) error {
	if strings.TrimSpace(rec.SessionKey) == "" {
		return fmt.Errorf("session key is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbound_messages
			(id, channel, account_id, session_key, agent_id, sender_id, sender_name, message_id, body, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Channel, rec.AccountID, rec.SessionKey, rec.AgentID, rec.SenderID,
		rec.SenderName, rec.MessageID, rec.Body, formatTime(rec.ReceivedAt))
	if err != nil {
		return fmt.Errorf("record inbound: %w", err)
	}
	return nil
}

// ListInbound returns the newest records of a session first.
func (s *Store) ListInbound(ctx context.Context, sessionKey string, limit int) ([]InboundRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, account_id, session_key, agent_id, sender_id, sender_name, message_id, body, received_at
		FROM inbound_messages WHERE session_key = ?
		ORDER BY received_at DESC LIMIT ?
	`, sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InboundRecord
	for rows.Next() {
		var (
			rec        InboundRecord
			receivedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Channel, &rec.AccountID, &rec.SessionKey, &rec.AgentID,
			&rec.SenderID, &rec.SenderName, &rec.MessageID, &rec.Body, &receivedAt); err != nil {
			return nil, err
		}
		rec.ReceivedAt = parseTime(receivedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListSessions summarizes sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, MAX(channel), MAX(account_id), MAX(sender_id), COUNT(*), MAX(received_at) AS last_at
		FROM inbound_messages
		GROUP BY session_key
		ORDER BY last_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum    SessionSummary
			lastAt string
		)
		if err := rows.Scan(&sum.SessionKey, &sum.Channel, &sum.AccountID, &sum.SenderID, &sum.Messages, &lastAt); err != nil {
			return nil, err
		}
		sum.LastReceivedAt = parseTime(lastAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}
