package store

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// Row lock keys. One namespace per table so ids never collide across tables.
func clientGroupLockKey(id string) string { return "client_group:" + id }
func clientLockKey(id string) string      { return "client:" + id }

// rowLock is a one-slot semaphore so waiters can give up on ctx cancellation.
// refs counts holders plus waiters; the entry is removed when it drops to 0.
type rowLock struct {
	sem  chan struct{}
	refs int
}

// lockTable maps row keys to locks. Entries exist only while some
// transaction holds or waits for the row, so the table stays bounded by the
// number of in-flight transactions rather than the number of rows.
type lockTable struct {
	rows *xsync.MapOf[string, *rowLock]
}

func newLockTable() *lockTable {
	return &lockTable{rows: xsync.NewMapOf[string, *rowLock]()}
}

// acquire blocks until the row lock for key is held or ctx is done.
// The returned release func must be called exactly once.
func (t *lockTable) acquire(ctx context.Context, key string) (func(), error) {
	l, _ := t.rows.Compute(key, func(old *rowLock, loaded bool) (*rowLock, bool) {
		if !loaded {
			old = &rowLock{sem: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			t.unref(key)
		}, nil
	case <-ctx.Done():
		t.unref(key)
		return nil, ctx.Err()
	}
}

func (t *lockTable) unref(key string) {
	t.rows.Compute(key, func(old *rowLock, loaded bool) (*rowLock, bool) {
		if !loaded {
			return nil, true
		}
		old.refs--
		return old, old.refs == 0
	})
}

// size reports how many rows are currently locked or awaited.
func (t *lockTable) size() int {
	return t.rows.Size()
}
