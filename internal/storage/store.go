// Package storage opens the worker's SQLite database during initialization.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrPathRequired = errors.New("storage: path is required")

const schema = `CREATE TABLE IF NOT EXISTS universe_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Store is an open SQLite handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at path, verifies it answers and records the open
// time. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrPathRequired
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.Put(context.Background(), "opened_at", time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the handle. It is safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.db.PingContext(ctx)
}

// Put upserts one metadata value.
func (s *Store) Put(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO universe_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put meta %s: %w", key, err)
	}
	return nil
}

// Get returns a metadata value; ok is false when the key is absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("storage is not configured")
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM universe_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}
