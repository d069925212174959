// Package store is the durable side of the coordinator: sessions, captures,
// blobs, projects, and the small key-value mirror used for restart recovery,
// all in a single SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist for the given key.
var ErrNotFound = errors.New("not found")

const schema = `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		start_url TEXT NOT NULL DEFAULT '',
		user_agent_hint TEXT NOT NULL DEFAULT '',
		pages_visited TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		host TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		record TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_captures_session ON captures(session_id);
	CREATE INDEX IF NOT EXISTS idx_captures_host ON captures(host);

	CREATE TABLE IF NOT EXISTS blobs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		mime_type TEXT NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		bytes BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_sessions (
		project_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		PRIMARY KEY (project_id, session_id),
		FOREIGN KEY (project_id) REFERENCES projects(id),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
`

// Store wraps the coordinator database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// production pragmas: WAL journaling, foreign keys, a 10s busy timeout.
// Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }
