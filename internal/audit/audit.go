// Package audit persists a host-lifetime record of supervisor restarts
// and crashes to a SQLite database, for postmortem inspection after a
// plugin misbehaves. This is a lifecycle audit trail, not plugin state:
// it carries no bearing on what the supervisor replays after a restart,
// so it does not conflict with the host otherwise holding no persistent
// state beyond the last configuration (§4.C).
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/google/uuid"
)

// Store records restart and exit events against a SQLite-backed log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path in WAL
// mode and returns a Store. Call Migrate before use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS restart_events (
		id TEXT PRIMARY KEY,
		plugin TEXT NOT NULL,
		event TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		detail TEXT,
		occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("running audit migrations: %w", err)
	}
	return nil
}

// RecordExit logs an unexpected child exit.
func (s *Store) RecordExit(ctx context.Context, plugin string, detail string) error {
	return s.insert(ctx, plugin, "exit", 0, detail)
}

// RecordRestart logs a restart attempt.
func (s *Store) RecordRestart(ctx context.Context, plugin string, attempt int) error {
	return s.insert(ctx, plugin, "restart", attempt, "")
}

// RecordMaxRestartsExceeded logs that a supervisor gave up for good.
func (s *Store) RecordMaxRestartsExceeded(ctx context.Context, plugin string) error {
	return s.insert(ctx, plugin, "max_restarts_exceeded", 0, "")
}

func (s *Store) insert(ctx context.Context, plugin, event string, attempt int, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO restart_events (id, plugin, event, attempt, detail) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), plugin, event, attempt, detail)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// Event is one row of the restart/crash audit log.
type Event struct {
	ID         string    `json:"id"`
	Plugin     string    `json:"plugin"`
	Event      string    `json:"event"`
	Attempt    int       `json:"attempt"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// RecentEvents returns up to n of the most recent events for plugin,
// newest first.
func (s *Store) RecentEvents(ctx context.Context, plugin string, n int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plugin, event, attempt, detail, occurred_at FROM restart_events
		 WHERE plugin = ? ORDER BY occurred_at DESC, rowid DESC LIMIT ?`, plugin, n)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Plugin, &e.Event, &e.Attempt, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
