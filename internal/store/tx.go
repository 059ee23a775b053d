package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// ErrRetriesExhausted is returned when Transact gave up after repeated
// busy/locked errors. It wraps the last underlying error.
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// retryBackoff is the base delay between attempts; attempt n waits n*retryBackoff.
const retryBackoff = 10 * time.Millisecond

// Hook runs after a transaction commits.
type Hook func(ctx context.Context) error

// Tx is one attempt of a Transact scope.
//
// Tx is not safe for concurrent use; it belongs to the goroutine running the
// Transact callback.
type Tx struct {
	tx    *sql.Tx
	store *Store
	held  map[string]func()
	hooks []Hook
}

// Transact runs fn inside a serializable transaction.
//
// If fn returns nil the transaction commits, every row lock is released and
// the AfterCommit hooks run in registration order. If fn returns an error or
// panics the transaction rolls back, locks are released and hooks are
// discarded. Busy/locked errors from SQLite re-run fn from scratch.
//
// fn may run more than once, so it must not have side effects outside tx
// except through AfterCommit.
func (s *Store) Transact(ctx context.Context, fn func(tx *Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.log.Debug("retrying transaction", "attempt", attempt, "error", lastErr)
			if err := sleepCtx(ctx, time.Duration(attempt)*retryBackoff); err != nil {
				return err
			}
		}

		hooks, err := s.transactOnce(ctx, fn)
		if err == nil {
			s.runHooks(ctx, hooks)
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.maxRetries+1, lastErr)
}

func (s *Store) transactOnce(ctx context.Context, fn func(tx *Tx) error) (hooks []Hook, err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}

	tx := &Tx{
		tx:    sqlTx,
		store: s,
		held:  make(map[string]func()),
	}
	// Runs last: locks are released only after commit or rollback finished.
	defer tx.releaseLocks()

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("rollback failed", "error", rbErr)
		}
		return nil, err
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return tx.hooks, nil
}

// runHooks executes post-commit hooks. The data is already durable, so hook
// failures are logged and never turned into a transaction error.
func (s *Store) runHooks(ctx context.Context, hooks []Hook) {
	for i, hook := range hooks {
		if err := hook(ctx); err != nil {
			s.log.Warn("after-commit hook failed", "hook", i, "error", err)
		}
	}
}

// AfterCommit registers fn to run once this transaction has committed.
// fn never runs if the transaction rolls back.
func (t *Tx) AfterCommit(fn Hook) {
	t.hooks = append(t.hooks, fn)
}

// lock takes the row lock for key unless this transaction already holds it.
func (t *Tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	release, err := t.store.locks.acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	t.held[key] = release
	return nil
}

func (t *Tx) releaseLocks() {
	for key, release := range t.held {
		release()
		delete(t.held, key)
	}
}

// ExecContext runs a statement inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs a query inside the transaction.
// Callers are responsible for closing the returned rows.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// IsRetryable reports whether err is transient SQLite contention that a
// fresh attempt of the same transaction can succeed past.
func IsRetryable(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		// Extended codes such as SQLITE_BUSY_SNAPSHOT keep the primary code in the low byte.
		primary := se.Code & 0xff
		return primary == sqlite3.ErrBusy || primary == sqlite3.ErrLocked
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
