// ABOUTME: SQLite ledger of session lifecycle transitions (created, reset, forked)
// ABOUTME: Append-only audit trail queried by the CLI; never consulted for session decisions

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ledgerTimeFormat is fixed-width so timestamps sort lexically.
const ledgerTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// LifecycleKind names a session transition.
type LifecycleKind string

const (
	LifecycleCreated LifecycleKind = "created"
	LifecycleReset   LifecycleKind = "reset"
	LifecycleForked  LifecycleKind = "forked"
)

// LifecycleEvent records one transition of a session key to a new session id.
type LifecycleEvent struct {
	ID            string
	StorePath     string
	SessionKey    string
	Kind          LifecycleKind
	SessionID     string
	PrevSessionID string // empty for created
	ParentKey     string // set for forked
	Reason        string // "trigger", "idle", "daily", "first-message", ...
	Channel       string
	Timestamp     time.Time
}

// Ledger persists lifecycle events in SQLite.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLedger opens (or creates) the ledger database at path. Use ":memory:" in tests.
func NewLedger(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	// Several processes append to the same ledger
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("session ledger initialized", "path", path)
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_lifecycle (
			event_id        TEXT PRIMARY KEY,
			store_path      TEXT NOT NULL,
			session_key     TEXT NOT NULL,
			kind            TEXT NOT NULL,
			session_id      TEXT NOT NULL,
			prev_session_id TEXT,
			parent_key      TEXT,
			reason          TEXT,
			channel         TEXT,
			timestamp       TEXT NOT NULL,

			CHECK (kind IN ('created', 'reset', 'forked'))
		);

		CREATE INDEX IF NOT EXISTS idx_lifecycle_key_ts
			ON session_lifecycle(session_key, timestamp);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordLifecycle appends an event. ID and Timestamp are filled when empty.
func (l *Ledger) RecordLifecycle(ctx context.Context, event *LifecycleEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO session_lifecycle (
			event_id, store_path, session_key, kind, session_id, prev_session_id,
			parent_key, reason, channel, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		event.ID,
		event.StorePath,
		event.SessionKey,
		string(event.Kind),
		event.SessionID,
		nullString(event.PrevSessionID),
		nullString(event.ParentKey),
		nullString(event.Reason),
		nullString(event.Channel),
		event.Timestamp.UTC().Format(ledgerTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting lifecycle event: %w", err)
	}

	l.logger.Debug("recorded lifecycle event",
		"session_key", event.SessionKey,
		"kind", event.Kind,
		"session_id", event.SessionID,
	)
	return nil
}

// ListLifecycle returns events for a session key, newest first. limit <= 0 means 50.
func (l *Ledger) ListLifecycle(ctx context.Context, sessionKey string, limit int) ([]*LifecycleEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT event_id, store_path, session_key, kind, session_id, prev_session_id,
		       parent_key, reason, channel, timestamp
		FROM session_lifecycle
		WHERE session_key = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query, sessionKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []*LifecycleEvent
	for rows.Next() {
		var (
			e                                  LifecycleEvent
			kind, ts                           string
			prev, parent, reason, channelValue sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.StorePath, &e.SessionKey, &kind, &e.SessionID,
			&prev, &parent, &reason, &channelValue, &ts); err != nil {
			return nil, fmt.Errorf("scanning lifecycle event: %w", err)
		}
		e.Kind = LifecycleKind(kind)
		e.PrevSessionID = prev.String
		e.ParentKey = parent.String
		e.Reason = reason.String
		e.Channel = channelValue.String
		e.Timestamp, err = time.Parse(ledgerTimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
