// Package store persists members, upload history, tracking links, clicks and
// dashboard users in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle shared by every repository method.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// _txlock=immediate takes the write lock at BEGIN, so a CLI import and
	// the server never fail a read-then-write upgrade with SQLITE_BUSY.
	dsn := path + "?" + url.Values{
		"_txlock": []string{"immediate"},
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open rosterwatch db: %w", err)
	}
	// One connection serializes writers and keeps each batch transaction
	// invisible to readers until commit.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		email              TEXT NOT NULL UNIQUE,
		placeholder        INTEGER NOT NULL DEFAULT 0,
		first_name         TEXT NOT NULL DEFAULT '',
		last_name          TEXT NOT NULL DEFAULT '',
		invited_by         TEXT NOT NULL DEFAULT '',
		joined_at          TEXT NOT NULL DEFAULT '',
		price              REAL NOT NULL DEFAULT 0,
		recurring_interval TEXT NOT NULL DEFAULT '',
		tier               TEXT NOT NULL DEFAULT '',
		ltv                REAL NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'churned')),
		churned_at         TEXT NOT NULL DEFAULT '',
		first_seen_at      TEXT NOT NULL DEFAULT '',
		last_seen_at       TEXT NOT NULL DEFAULT '',
		upload_batch       TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_members_joined ON members(joined_at);
	CREATE INDEX IF NOT EXISTS idx_members_status ON members(status, placeholder);

	CREATE TABLE IF NOT EXISTS upload_history (
		id                  TEXT PRIMARY KEY,
		batch               TEXT NOT NULL,
		uploaded_at         TEXT NOT NULL,
		total_members       INTEGER NOT NULL DEFAULT 0,
		active_members      INTEGER NOT NULL DEFAULT 0,
		new_members         INTEGER NOT NULL DEFAULT 0,
		updated_members     INTEGER NOT NULL DEFAULT 0,
		churned_members     INTEGER NOT NULL DEFAULT 0,
		reactivated_members INTEGER NOT NULL DEFAULT 0,
		paid_members        INTEGER NOT NULL DEFAULT 0,
		free_members        INTEGER NOT NULL DEFAULT 0,
		mrr                 REAL NOT NULL DEFAULT 0,
		total_ltv           REAL NOT NULL DEFAULT 0,
		avg_ltv             REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_upload_history_uploaded ON upload_history(uploaded_at);

	CREATE TABLE IF NOT EXISTS tracking_links (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		channel         TEXT NOT NULL UNIQUE,
		destination_url TEXT NOT NULL,
		utm_source      TEXT NOT NULL DEFAULT '',
		utm_campaign    TEXT NOT NULL DEFAULT '',
		platform        TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS clicks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		channel    TEXT NOT NULL,
		clicked_at TEXT NOT NULL,
		ip_hash    TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		referer    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_clicks_channel ON clicks(channel);
	CREATE INDEX IF NOT EXISTS idx_clicks_date ON clicks(clicked_at);

	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL DEFAULT 'viewer',
		created_at    TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO store_meta (key, value) VALUES ('version', 0);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init rosterwatch schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Version returns a counter that increases with every committed change to
// members or upload history. Analytics caches key on it.
func (s *Store) Version(ctx context.Context) (int64, error) {
	var v int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'version'`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read store version: %w", err)
	}
	return v, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func bumpVersion(ctx context.Context, e execer) error {
	if _, err := e.ExecContext(ctx, `UPDATE store_meta SET value = value + 1 WHERE key = 'version'`); err != nil {
		return fmt.Errorf("bump store version: %w", err)
	}
	return nil
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
