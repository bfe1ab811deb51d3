package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	payload    TEXT,
	created_at TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`

// SQLiteRecorder persists the interaction log in a SQLite events table keyed
// by (session_id, seq).
type SQLiteRecorder struct {
	db *sql.DB
	// mu serializes writers so the MAX(seq)+1 assignment is race-free
	// within this process; the primary key enforces it across processes.
	mu sync.Mutex
}

// OpenSQLite opens (creating if needed) the interaction log database at path.
// Use ":memory:" for an ephemeral log.
func OpenSQLite(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log database: %w", err)
	}
	// modernc sqlite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY churn under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize log schema: %w", err)
	}

	return &SQLiteRecorder{db: db}, nil
}

// Record appends an entry with the next per-session sequence number.
func (r *SQLiteRecorder) Record(ctx context.Context, sessionID string, kind Kind, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO events (session_id, seq, kind, payload, created_at)
		SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?
		FROM events WHERE session_id = ?`,
		sessionID, string(kind), string(data), time.Now().UTC().Format(time.RFC3339Nano), sessionID,
	)
	if err != nil {
		return fmt.Errorf("record log entry: %w", err)
	}
	return nil
}

// History returns all entries for a session ordered by sequence number.
func (r *SQLiteRecorder) History(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, kind, payload, created_at
		FROM events WHERE session_id = ?
		ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query log history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			kind      string
			payload   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&entry.Seq, &kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.SessionID = sessionID
		entry.Kind = Kind(kind)
		if payload.Valid {
			entry.Payload = []byte(payload.String)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			entry.Timestamp = ts
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log history: %w", err)
	}
	return entries, nil
}

// Ping verifies the database connection, for health checks.
func (r *SQLiteRecorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the underlying database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
