// Package state stores run checkpoints in a per-project SQLite database
// (.friday/state.db). A checkpoint is the run record plus a snapshot of
// every node in its task graph.
package state

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB is a checkpoint database. Writes are serialized; reads share the lock.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// connPragmas are applied to the connection through the DSN.
var connPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// Open opens the checkpoint database at path, creating its directory.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection, so the pragmas hold for every statement.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return &DB{conn: conn, path: path}, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "runs", `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	working_dir TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	error TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`},
	{2, "nodes", `
CREATE TABLE IF NOT EXISTS nodes (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	seq INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	dependencies TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	code TEXT NOT NULL DEFAULT '',
	invocation TEXT NOT NULL DEFAULT '',
	return_value TEXT NOT NULL DEFAULT '',
	retry_count INTEGER NOT NULL DEFAULT 0,
	replan_count INTEGER NOT NULL DEFAULT 0,
	score INTEGER NOT NULL DEFAULT 0,
	skill_fingerprint TEXT NOT NULL DEFAULT '',
	last_reasoning TEXT NOT NULL DEFAULT '',
	history TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (run_id, name)
);
CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(run_id, status);
`},
}

// Migrate brings the schema up to the latest version. Each migration runs
// in its own transaction together with its schema_version row.
func (db *DB) Migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := db.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration v%d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh file.
func (db *DB) SchemaVersion() (int, error) {
	var v int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// Exec runs a statement under the write lock.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query runs a query under the read lock.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow runs a single-row query under the read lock.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs fn in a transaction, rolling back if fn fails.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// PurgeOldRuns deletes finished runs not updated within olderThan, along
// with their nodes, and returns how many runs were removed.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := db.Exec(`DELETE FROM runs WHERE updated_at < ? AND status != ?`, cutoff, string(RunActive))
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	return res.RowsAffected()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
