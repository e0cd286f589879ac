package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/stepwise/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty file, schema not yet applied
// 1 - plans, steps, step_dependencies, checklist_items, artifacts
const currentSchemaVersion = 1

// DefaultBusyTimeout bounds how long a writer waits for the lock before
// failing with ir.CodeBusy. Long enough to absorb brief contention, short
// enough to surface a stuck writer.
const DefaultBusyTimeout = 5 * time.Second

// DefaultMaxReaders is the reader pool size when WithMaxReaders is not given.
const DefaultMaxReaders = 4

// Store provides durable storage for stepwise coordination state.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db   *sql.DB // writer pool, BEGIN IMMEDIATE transactions
	rdb  *sql.DB // reader pool, query-only
	path string
}

type options struct {
	busyTimeout time.Duration
	maxReaders  int
}

// Option configures Open.
type Option func(*options)

// WithBusyTimeout sets the lock-wait window for writers and readers.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxReaders caps the number of concurrent reader connections.
func WithMaxReaders(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReaders = n
		}
	}
}

// Open creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - busy timeout for lock contention (DefaultBusyTimeout unless overridden)
//   - Foreign key enforcement
//
// On first use the schema is created and stamped with the current version.
// A file stamped with any other version fails with ir.CodeSchemaMismatch
// rather than running against a stale layout.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("open store: path is required")
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		return nil, fmt.Errorf("open store: %q: in-memory databases cannot be shared between processes", path)
	}

	o := options{busyTimeout: DefaultBusyTimeout, maxReaders: DefaultMaxReaders}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("sqlite3", writerDSN(path, o))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One writer connection per process; cross-process exclusion comes
	// from BEGIN IMMEDIATE.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySchema(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	rdb, err := sql.Open("sqlite3", readerDSN(path, o))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open reader pool: %w", err)
	}
	rdb.SetMaxOpenConns(o.maxReaders)
	if err := rdb.Ping(); err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to connect reader pool: %w", err)
	}

	return &Store{db: db, rdb: rdb, path: path}, nil
}

// writerDSN configures the single writer connection. _txlock=immediate
// makes every BeginTx take the RESERVED lock up front, so a read-then-write
// sequence cannot interleave with another writer.
func writerDSN(path string, o options) string {
	return fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on",
		path, o.busyTimeout.Milliseconds())
}

// readerDSN configures read-only snapshot connections.
func readerDSN(path string, o options) string {
	return fmt.Sprintf("%s?_txlock=deferred&_busy_timeout=%d&_query_only=1&_foreign_keys=on",
		path, o.busyTimeout.Milliseconds())
}

// Close closes both connection pools.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying writer sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applySchema creates tables on first use and verifies the version marker.
// Runs under BEGIN IMMEDIATE so concurrent first opens do not race.
func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classify("apply schema: begin", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	switch {
	case version == 0:
		// A version-0 file that already has tables was not written by us.
		var tables int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'",
		).Scan(&tables)
		if err != nil {
			return fmt.Errorf("inspect schema: %w", err)
		}
		if tables > 0 {
			return ir.NewSchemaMismatchError(0, currentSchemaVersion)
		}
	case version != currentSchemaVersion:
		return ir.NewSchemaMismatchError(version, currentSchemaVersion)
	}

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return classify("apply schema: commit", err)
	}
	return nil
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// classify maps driver lock timeouts to ir.CodeBusy and wraps everything
// else with op. Errors that already carry a taxonomy code pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if ir.CodeOf(err) != "" {
		return err
	}
	if isBusy(err) {
		return ir.NewBusyError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(db *sql.DB, name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
