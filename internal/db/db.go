// Package db stores run history: runs, gate executions, repair attempts,
// escalations and loop events. SQLite is the default backend; a postgres://
// DSN selects PostgreSQL.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// Backend is a database flavor.
type Backend string

const (
	SQLite   Backend = "sqlite"
	Postgres Backend = "postgres"
)

// BackendOf picks the backend for dsn: postgres:// and postgresql:// URLs are
// PostgreSQL, anything else is a SQLite path.
func BackendOf(dsn string) Backend {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// DB wraps the history database connection.
type DB struct {
	conn    *sql.DB
	backend Backend
}

// Open opens or creates the database at dsn.
func Open(dsn string) (*DB, error) {
	backend := BackendOf(dsn)
	if backend == Postgres {
		conn, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		return &DB{conn: conn, backend: backend}, nil
	}

	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", dsn, err)
		}
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, backend: backend}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Backend returns the database flavor.
func (d *DB) Backend() Backend {
	return d.backend
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d *DB) rebind(query string) string {
	if d.backend != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Rebind rewrites a query written with ? placeholders for the backend.
func (d *DB) Rebind(query string) string {
	return d.rebind(query)
}

func (d *DB) exec(query string, args ...any) (sql.Result, error) {
	return d.conn.Exec(d.rebind(query), args...)
}

func (d *DB) query(query string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(d.rebind(query), args...)
}

func (d *DB) queryRow(query string, args ...any) *sql.Row {
	return d.conn.QueryRow(d.rebind(query), args...)
}

// schemaV1 uses {{id}} for the auto-increment primary key column.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
    run_id                TEXT PRIMARY KEY,
    mode                  TEXT NOT NULL CHECK(mode IN ('canary','full')),
    status                TEXT NOT NULL,
    started_at            TEXT NOT NULL,
    completed_at          TEXT NOT NULL,
    duration_ms           BIGINT NOT NULL DEFAULT 0,
    repo                  TEXT,
    branch                TEXT,
    changed_files         INTEGER NOT NULL DEFAULT 0,
    findings              INTEGER NOT NULL DEFAULT 0,
    gate_execution_failed BOOLEAN NOT NULL DEFAULT FALSE,
    config_source         TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS gate_runs (
    id          {{id}},
    run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    phase       TEXT NOT NULL,
    gate        TEXT NOT NULL CHECK(gate IN ('lint','typecheck','test')),
    status      TEXT NOT NULL,
    reason      TEXT,
    command     TEXT,
    exit_code   INTEGER,
    timed_out   BOOLEAN NOT NULL DEFAULT FALSE,
    scoped      BOOLEAN NOT NULL DEFAULT FALSE,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    findings    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_gate_runs_run ON gate_runs(run_id, phase);

CREATE TABLE IF NOT EXISTS repair_attempts (
    id              {{id}},
    run_id          TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    attempt         INTEGER NOT NULL,
    before_findings INTEGER NOT NULL,
    after_findings  INTEGER NOT NULL,
    patch_lines     INTEGER NOT NULL,
    files_changed   INTEGER NOT NULL DEFAULT 0,
    outcome         TEXT NOT NULL CHECK(outcome IN ('improved','unchanged','worsened')),
    rolled_back     BOOLEAN NOT NULL DEFAULT FALSE,
    recorded_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON repair_attempts(run_id, attempt);

CREATE TABLE IF NOT EXISTS escalations (
    id          {{id}},
    run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    code        TEXT NOT NULL,
    rationale   TEXT NOT NULL,
    attempts    INTEGER NOT NULL,
    remaining   INTEGER NOT NULL,
    recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_escalations_run ON escalations(run_id);

CREATE TABLE IF NOT EXISTS events (
    id          {{id}},
    run_id      TEXT NOT NULL,
    event       TEXT NOT NULL,
    detail      TEXT,
    recorded_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, id);
`

// tables lists every table, children first.
var tables = []string{"events", "escalations", "repair_attempts", "gate_runs", "runs", "schema_version"}

func (d *DB) schema() string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.backend == Postgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(schemaV1, "{{id}}", id)
}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	if _, err := d.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var count int
	err := d.queryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", 1).Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// pgx runs one statement per Exec.
	for _, stmt := range strings.Split(d.schema(), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(d.rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"), 1, now()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
