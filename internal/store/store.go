// Package store provides durable persistence for clusters, inspection
// items, runs, per-item results, agents, and the audit log. The default
// backend is an embedded, pure-Go SQLite database; when DATABASE_URL
// selects Postgres or MySQL instead, the same Store drives those engines
// through database/sql with no change to the query-building above the
// driver boundary.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/qen-labs/inspectord/internal/migration"
)

// schemaVersion is the current schema version this binary expects. A
// SQLite store passes it to migration.EnsureVersion when it opens.
const schemaVersion = 1

// Store is the single source of truth for all persisted orchestration
// state. All mutation goes through its methods; callers never see a raw
// *sql.DB.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens a Store backed by an embedded SQLite file at path. Use
// OpenDSN for an external Postgres/MySQL backend.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer connection avoids "database is locked" errors without
	// needing an application-level mutex around writes; SQLite already
	// serialises at the file level, so going wider just causes retries.
	db.SetMaxOpenConns(1)
	return newStore(db, "sqlite")
}

// OpenDSN opens a Store backed by an external database selected by a
// DATABASE_URL-style DSN. driver must be "postgres" or "mysql".
func OpenDSN(driver, dsn string) (*Store, error) {
	sqlDriver := driver
	if driver == "postgres" {
		sqlDriver = "pgx"
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return newStore(db, driver)
}

func newStore(db *sql.DB, driver string) (*Store, error) {
	if driver == "sqlite" {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
			"PRAGMA foreign_keys=ON",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	s := &Store{db: db, driver: driver}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if driver == "sqlite" {
		if err := migration.EnsureVersion(db, schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema version: %w", err)
		}
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS clusters (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kubeconfig_path TEXT NOT NULL DEFAULT '',
			prometheus_url TEXT NOT NULL DEFAULT '',
			contexts TEXT NOT NULL DEFAULT '[]',
			connection_status TEXT NOT NULL DEFAULT 'unknown',
			connection_message TEXT NOT NULL DEFAULT '',
			kubernetes_version TEXT NOT NULL DEFAULT '',
			node_count INTEGER,
			last_checked_at TEXT,
			execution_mode TEXT NOT NULL DEFAULT 'server',
			default_agent_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inspection_items (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			check_type TEXT NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inspection_agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			cluster_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			is_enabled INTEGER NOT NULL DEFAULT 1,
			prometheus_url TEXT NOT NULL DEFAULT '',
			token_hash TEXT NOT NULL DEFAULT '',
			last_seen_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inspection_runs (
			id TEXT PRIMARY KEY,
			cluster_id TEXT NOT NULL,
			operator TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			executor TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			agent_status TEXT NOT NULL DEFAULT '',
			total_items INTEGER NOT NULL DEFAULT 0,
			processed_items INTEGER NOT NULL DEFAULT 0,
			progress INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			report_path TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			lease_expires_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS run_items (
			run_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			item_name TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			PRIMARY KEY (run_id, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS inspection_results (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			item_id TEXT NOT NULL DEFAULT '',
			item_name TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			suggestion TEXT NOT NULL DEFAULT '',
			sequence INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			actor TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			target TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inspection_runs_cluster ON inspection_runs(cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_inspection_runs_agent ON inspection_runs(agent_id, agent_status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_inspection_results_run_item ON inspection_results(run_id, item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(rewriteForDriver(stmt, s.driver)); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rewriteForDriver adapts the SQLite-flavoured DDL above to Postgres/MySQL
// dialects. Only the handful of constructs actually used above need
// translation; this is not a general SQL dialect translator.
func rewriteForDriver(stmt, driver string) string {
	switch driver {
	case "postgres":
		stmt = strings.ReplaceAll(stmt, "TEXT PRIMARY KEY", "TEXT PRIMARY KEY")
		stmt = strings.ReplaceAll(stmt, "INTEGER NOT NULL DEFAULT 1", "INTEGER NOT NULL DEFAULT 1")
	case "mysql":
		stmt = strings.ReplaceAll(stmt, "TEXT PRIMARY KEY", "VARCHAR(64) PRIMARY KEY")
		stmt = strings.ReplaceAll(stmt, "TEXT NOT NULL UNIQUE", "VARCHAR(255) NOT NULL UNIQUE")
	}
	return stmt
}

// scanner is satisfied by both *sql.Row and *sql.Rows, letting row-mapping
// helpers be shared between single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}
