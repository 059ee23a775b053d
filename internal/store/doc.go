// Package store provides SQLite-backed durable storage for replipush.
//
// The store holds the two bookkeeping tables the push engine owns:
//   - client_groups: one row per logical device group (owner, cvr version)
//   - clients: one row per physical client (last applied mutation id)
//
// plus the skipped_mutations poison log and any domain tables the embedding
// application registers with WithSchema.
//
// # Transactions
//
// All engine writes go through Transact, a structured transaction scope:
//   - the callback runs inside one serializable transaction
//   - row locks taken with LockClientGroup/LockClient are held until the
//     scope ends and are released on every exit path (commit, rollback, panic)
//   - AfterCommit hooks run only after a successful commit, never on rollback
//   - SQLITE_BUSY/SQLITE_LOCKED (including stale-snapshot serialization
//     failures) roll back and re-run the callback, up to MaxRetries times
//
// # Row Locks
//
// SQLite has no SELECT ... FOR UPDATE. The store keeps a lock table keyed by
// row ("client_group:<id>", "client:<id>"). A second transaction for the same
// row blocks until the first ends, then reads fresh data. Different rows never
// block each other here; SQLite still serializes writers at commit and any
// collision surfaces as a retryable busy error.
//
// Lock order is always client group before client. Handlers running inside a
// transaction must not take row locks themselves.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout: Wait for the write lock (default 5 seconds)
//   - foreign_keys=ON: clients.client_group_id is enforced, not advisory
//
// Pragmas are passed in the DSN so every pooled connection gets them.
package store
