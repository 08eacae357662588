// Package database provides SQLite storage.
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	*sqlStore
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{sqlStore: &sqlStore{conn: conn, rebind: func(q string) string { return q }}}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false; SQLite serializes writers.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		parent_id INTEGER REFERENCES folders(id) ON DELETE SET NULL
	);
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		parent_folder_id INTEGER REFERENCES folders(id) ON DELETE SET NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		subscription_id TEXT,
		subscription_provider_id TEXT,
		original_url TEXT,
		thumbnail_url TEXT
	);
	CREATE TABLE IF NOT EXISTS videos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		subscription_provider_id TEXT,
		video_id TEXT,
		video_provider_id TEXT,
		name TEXT NOT NULL,
		description TEXT,
		original_url TEXT NOT NULL,
		thumbnail_url TEXT,
		published DATETIME,
		last_updated DATETIME,
		discovered DATETIME,
		views INTEGER,
		rating REAL,
		playlist_index INTEGER NOT NULL DEFAULT 0,
		is_watched INTEGER NOT NULL DEFAULT 0,
		downloaded_path TEXT,
		downloaded_size INTEGER
	);
	CREATE TABLE IF NOT EXISTS options (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS user_options (
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (user_id, key)
	);
	CREATE TABLE IF NOT EXISTS folder_options (
		folder_id INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (folder_id, key)
	);
	CREATE TABLE IF NOT EXISTS subscription_options (
		subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (subscription_id, key)
	);
	CREATE TABLE IF NOT EXISTS provider_configs (
		provider_id TEXT PRIMARY KEY,
		config TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_videos_subscription_id ON videos(subscription_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_parent ON subscriptions(parent_folder_id);
	CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}
