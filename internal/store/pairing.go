package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// PairingCodeLength is the number of characters in a pairing code.
	PairingCodeLength = 8
	// PairingTTL is how long a pairing request stays valid.
	PairingTTL = time.Hour

	// Ambiguous characters (0/O, 1/I) are omitted.
	pairingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts = 5
)

// PairingInput identifies the sender asking to pair.
type PairingInput struct {
	Channel     string
	AccountID   string
	SenderID    string
	DisplayName string
}

// PairingRequest is a pending request waiting for owner approval.
type PairingRequest struct {
	Code        string    `json:"code"`
	Channel     string    `json:"channel"`
	AccountID   string    `json:"account_id"`
	SenderID    string    `json:"sender_id"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UpsertPairingRequest returns the sender's live request, creating one when
// none exists or the previous one expired. created reports whether a new
// request was made.
func (s *Store) UpsertPairingRequest(ctx context.Context, in PairingInput) (PairingRequest, bool, error) {
	in.SenderID = strings.TrimSpace(in.SenderID)
	if in.SenderID == "" {
		return PairingRequest{}, false, fmt.Errorf("sender id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PairingRequest{}, false, err
	}
	defer tx.Rollback()

	now := s.now()
	existing, err := scanPairing(tx.QueryRowContext(ctx, `
		SELECT code, channel, account_id, sender_id, display_name, created_at, expires_at
		FROM pairing_requests WHERE channel = ? AND account_id = ? AND sender_id = ?
	`, in.Channel, in.AccountID, in.SenderID))
	switch {
	case err == nil && now.Before(existing.ExpiresAt):
		return existing, false, nil
	case err == nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_requests WHERE code = ?`, existing.Code); err != nil {
			return PairingRequest{}, false, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return PairingRequest{}, false, err
	}

	req := PairingRequest{
		Channel:     in.Channel,
		AccountID:   in.AccountID,
		SenderID:    in.SenderID,
		DisplayName: strings.TrimSpace(in.DisplayName),
		CreatedAt:   now,
		ExpiresAt:   now.Add(PairingTTL),
	}
	for attempt := 0; ; attempt++ {
		code, err := newPairingCode()
		if err != nil {
			return PairingRequest{}, false, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO pairing_requests (code, channel, account_id, sender_id, display_name, created_at, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(code) DO NOTHING
		`, code, req.Channel, req.AccountID, req.SenderID, req.DisplayName, formatTime(req.CreatedAt), formatTime(req.ExpiresAt))
		if err != nil {
			return PairingRequest{}, false, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			req.Code = code
			break
		}
		if attempt >= maxCodeAttempts {
			return PairingRequest{}, false, fmt.Errorf("generate unique pairing code")
		}
	}
	if err := tx.Commit(); err != nil {
		return PairingRequest{}, false, err
	}
	return req, true, nil
}

// ListPairingRequests returns unexpired requests for a channel, optionally
// narrowed to one account.
func (s *Store) ListPairingRequests(ctx context.Context, channel, accountID string) ([]PairingRequest, error) {
	query := `
		SELECT code, channel, account_id, sender_id, display_name, created_at, expires_at
		FROM pairing_requests WHERE channel = ? AND expires_at > ?`
	args := []any{channel, formatTime(s.now())}
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PairingRequest
	for rows.Next() {
		req, err := scanPairing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ApprovePairingCode moves the request's sender into the allow-list and
// removes the request.
func (s *Store) ApprovePairingCode(ctx context.Context, channel, code string) (PairingRequest, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PairingRequest{}, err
	}
	defer tx.Rollback()

	req, err := scanPairing(tx.QueryRowContext(ctx, `
		SELECT code, channel, account_id, sender_id, display_name, created_at, expires_at
		FROM pairing_requests WHERE channel = ? AND code = ?
	`, channel, code))
	if errors.Is(err, sql.ErrNoRows) {
		return PairingRequest{}, ErrPairingNotFound
	}
	if err != nil {
		return PairingRequest{}, err
	}
	now := s.now()
	if !now.Before(req.ExpiresAt) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_requests WHERE code = ?`, code); err != nil {
			return PairingRequest{}, err
		}
		if err := tx.Commit(); err != nil {
			return PairingRequest{}, err
		}
		return PairingRequest{}, ErrPairingNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO allow_from (channel, account_id, sender_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel, account_id, sender_id) DO NOTHING
	`, req.Channel, req.AccountID, req.SenderID, formatTime(now)); err != nil {
		return PairingRequest{}, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pairing_requests WHERE code = ?`, code); err != nil {
		return PairingRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return PairingRequest{}, err
	}
	return req, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPairing(row rowScanner) (PairingRequest, error) {
	var (
		req                  PairingRequest
		createdAt, expiresAt string
	)
	if err := row.Scan(&req.Code, &req.Channel, &req.AccountID, &req.SenderID, &req.DisplayName, &createdAt, &expiresAt); err != nil {
		return PairingRequest{}, err
	}
	req.CreatedAt = parseTime(createdAt)
	req.ExpiresAt = parseTime(expiresAt)
	return req, nil
}

func newPairingCode() (string, error) {
	buf := make([]byte, PairingCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = pairingAlphabet[int(b)%len(pairingAlphabet)]
	}
	return string(buf), nil
}
