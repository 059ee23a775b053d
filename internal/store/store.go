package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database
// 1 - client_groups, clients, skipped_mutations
const currentSchemaVersion = 1

// Defaults for Open.
const (
	DefaultMaxOpenConns = 4
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxRetries   = 5
)

// Store provides durable storage for client groups, clients and the
// domain tables handlers write to.
type Store struct {
	db         *sql.DB
	locks      *lockTable
	now        func() time.Time
	log        *slog.Logger
	maxRetries int
}

type options struct {
	maxOpenConns int
	busyTimeout  time.Duration
	maxRetries   int
	now          func() time.Time
	extraSchema  []string
	logger       *slog.Logger
}

// Option configures Open.
type Option func(*options)

// WithMaxOpenConns limits the connection pool.
// A value of 1 serializes every transaction on the single connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// WithBusyTimeout sets how long a writer waits for the SQLite write lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.busyTimeout = d
	}
}

// WithMaxRetries sets how often Transact re-runs a callback after a busy error.
// Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithClock overrides the time source for created_at/last_modified.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithSchema applies extra idempotent DDL after the bookkeeping schema.
// Used by the embedding application for its domain tables.
func WithSchema(ddl string) Option {
	return func(o *options) {
		o.extraSchema = append(o.extraSchema, ddl)
	}
}

// WithLogger sets the logger for retry and hook diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{
		maxOpenConns: DefaultMaxOpenConns,
		busyTimeout:  DefaultBusyTimeout,
		maxRetries:   DefaultMaxRetries,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxOpenConns < 1 {
		return nil, fmt.Errorf("invalid max open conns %d", o.maxOpenConns)
	}
	if o.maxRetries < 0 {
		return nil, fmt.Errorf("invalid max retries %d", o.maxRetries)
	}

	db, err := sql.Open("sqlite3", dsn(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)

	if err := applySchema(db, o.extraSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{
		db:         db,
		locks:      newLockTable(),
		now:        o.now,
		log:        o.logger,
		maxRetries: o.maxRetries,
	}, nil
}

// dsn encodes the pragmas as go-sqlite3 connection parameters so that every
// pooled connection is configured, not just the first one.
//
// Transactions begin DEFERRED so readers never wait on the write lock. A
// writer whose snapshot went stale gets SQLITE_BUSY and Transact retries it.
func dsn(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "deferred")
	return path + "?" + q.Encode()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - engine writes must go through Transact.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB, extra []string) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	for i, ddl := range extra {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to execute extra schema %d: %w", i, err)
		}
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// Version 1 is the initial schema created above; nothing to backfill yet.

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func (s *Store) timestamp() int64 {
	return s.now().UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
