package store

import (
	"context"
	"fmt"
	"strings"
)

// ReadAllowFrom returns the approved senders for an account.
func (s *Store) ReadAllowFrom(ctx context.Context, channel, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_id FROM allow_from
		WHERE channel = ? AND account_id = ?
		ORDER BY created_at, sender_id
	`, channel, accountID)
	if err != nil {
		return nil, fmt.Errorf("read allow list: %w", err)
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		senders = append(senders, id)
	}
	return senders, rows.Err()
}

// AddAllowFrom approves a sender. Adding an existing sender is a no-op.
func (s *Store) AddAllowFrom(ctx context.Context, channel, accountID, senderID string) error {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return fmt.Errorf("sender id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allow_from (channel, account_id, sender_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel, account_id, sender_id) DO NOTHING
	`, channel, accountID, senderID, formatTime(s.now()))
	return err
}

// RemoveAllowFrom revokes a sender. It reports whether the sender was present.
func (s *Store) RemoveAllowFrom(ctx context.Context, channel, accountID, senderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM allow_from WHERE channel = ? AND account_id = ? AND sender_id = ?
	`, channel, accountID, strings.TrimSpace(senderID))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
