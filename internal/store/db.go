// Package store persists OneBot bridge state in SQLite: the approved sender
// allow-list, pending pairing requests, and inbound session records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrPairingNotFound is returned when a pairing code is unknown or expired.
	ErrPairingNotFound = errors.New("pairing request not found")
)

// Store wraps the bridge database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS allow_from (
			channel     TEXT NOT NULL,
			account_id  TEXT NOT NULL,
			sender_id   TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			PRIMARY KEY (channel, account_id, sender_id)
		)`,
		`CREATE TABLE IF NOT EXISTS pairing_requests (
			code          TEXT PRIMARY KEY,
			channel       TEXT NOT NULL,
			account_id    TEXT NOT NULL,
			sender_id     TEXT NOT NULL,
			display_name  TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,
			expires_at    TEXT NOT NULL,
			UNIQUE (channel, account_id, sender_id)
		)`,
		`CREATE TABLE IF NOT EXISTS inbound_messages (
			id           TEXT PRIMARY KEY,
			channel      TEXT NOT NULL,
			account_id   TEXT NOT NULL,
			session_key  TEXT NOT NULL,
			agent_id     TEXT NOT NULL DEFAULT '',
			sender_id    TEXT NOT NULL,
			sender_name  TEXT NOT NULL DEFAULT '',
			message_id   TEXT NOT NULL DEFAULT '',
			body         TEXT NOT NULL DEFAULT '',
			received_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbound_session ON inbound_messages (session_key, received_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
