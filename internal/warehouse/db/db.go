// Package db opens the optional local state database under the data dir.
// The schema is deliberately small: the hub's live state is in-memory, and
// the database only keeps durable audit rows that survive restarts.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS boots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	author TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	received_at TEXT NOT NULL
);
`

// Open opens (creating if needed) the sqlite database at path and applies
// the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := handle.ExecContext(ctx, schema); err != nil {
		handle.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return handle, nil
}

// RecordBoot stamps one process start.
func RecordBoot(ctx context.Context, handle *sql.DB, startedAt time.Time) error {
	_, err := handle.ExecContext(ctx,
		`INSERT INTO boots (started_at) VALUES (?)`,
		startedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// RecordEvent persists one event row.
func RecordEvent(ctx context.Context, handle *sql.DB, id, author, kind, message string) error {
	_, err := handle.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, author, kind, message, received_at) VALUES (?, ?, ?, ?, ?)`,
		id, author, kind, message, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}
