// Package store provides the durable local project store for slatesync.
//
// The store is an embedded SQLite database (WAL mode) holding the local
// replica of Slate360 projects plus the pending-operation journal. It is
// the single source callers read from; the network is never on the read
// path.
//
// Architecture:
//   - Database file: .slate360/projects.db
//   - WAL mode: concurrent readers during writes
//   - Schema: projects, pending_ops tables
//   - Indexes: optimized for status/type/owner lookups and queue draining
//
// Workflow:
//  1. Callers mutate through the projects.Manager
//  2. Each accepted mutation lands here plus an entry in pending_ops
//  3. The reconcile engine drains pending_ops against the remote authority
//  4. Readers query this store only, via the projection layer
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite database connection with project-store functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema to
// create the tables.
//
// Failures to open or ping are reported as ErrUnavailable; they are never
// retried internally.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	db, err := store.Open(".slate360/projects.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", ErrUnavailable, err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrUnavailable, err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", ErrUnavailable, err)
	}

	// Set busy timeout to 5 seconds
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to set busy timeout: %v", ErrUnavailable, err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other packages that expect *sql.DB,
// such as the journal.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This creates the projects and pending_ops tables along with the indexes
// needed for fast lookups. Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'planning',
		type TEXT NOT NULL,
		budget REAL NOT NULL DEFAULT 0,
		start_date TEXT,
		end_date TEXT,
		owner TEXT,
		team TEXT,  -- JSON array
		tags TEXT,  -- JSON array
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		sync_state TEXT NOT NULL DEFAULT 'pending'
	);

	-- Journal of mutations not yet confirmed by the remote authority.
	-- Queue ids are strictly increasing; draining happens in id order.
	CREATE TABLE IF NOT EXISTS pending_ops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id TEXT NOT NULL,
		kind TEXT NOT NULL,  -- create, update, delete
		payload TEXT NOT NULL,  -- full post-state JSON snapshot
		enqueued_at TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		next_retry_at TEXT NOT NULL
	);

	-- Indexes for common lookups
	CREATE INDEX IF NOT EXISTS idx_projects_status ON projects(status);
	CREATE INDEX IF NOT EXISTS idx_projects_type ON projects(type);
	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner);
	CREATE INDEX IF NOT EXISTS idx_projects_sync_state ON projects(sync_state);
	CREATE INDEX IF NOT EXISTS idx_projects_updated ON projects(updated_at);

	CREATE INDEX IF NOT EXISTS idx_pending_ops_project ON pending_ops(project_id);
	CREATE INDEX IF NOT EXISTS idx_pending_ops_retry ON pending_ops(next_retry_at, id);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %v", ErrUnavailable, err)
	}

	return nil
}

// InTx runs fn inside a transaction, committing on nil and rolling back on
// error. The mutation path uses this so a project write and its journal
// entry are accepted atomically (no partial accept).
func (db *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrUnavailable, err)
	}
	return nil
}
