package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Open opens the sqlite database at path and runs migrations.
func Open(path string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite", path+sep+"_journal_mode=WAL&_busy_timeout=10000")
	if err != nil {
		return nil, err
	}

	// SQLite handles one writer and many readers in WAL mode.
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=30000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// OpenMemory opens a private in-memory database with migrations applied.
// The pool is pinned to a single connection so every query sees the same
// in-memory database.
func OpenMemory() (*sql.DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

var migrations = []struct {
	name string
	ddl  string
}{
	{"sessions", `CREATE TABLE IF NOT EXISTS sessions (
		selector TEXT PRIMARY KEY,
		validator_hash TEXT NOT NULL,
		username TEXT NOT NULL,
		api_token TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL,
		last_activity DATETIME DEFAULT CURRENT_TIMESTAMP
	)`},
	{"sessions_expires_idx", `CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`},
	{"audit_log", `CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT DEFAULT 'system',
		action TEXT NOT NULL,
		module TEXT NOT NULL,
		record_id TEXT NOT NULL DEFAULT '',
		summary TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`},
	{"audit_log_created_idx", `CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at)`},
}

// Migrate creates the tables techclinic needs. It is idempotent.
func Migrate(conn *sql.DB) error {
	for _, m := range migrations {
		if _, err := conn.Exec(m.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", m.name, err)
		}
	}
	return nil
}
