package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/replipush/internal/ir"
)

// ErrClientConflict is returned by PutClient when the write would move a
// client to another group or move its last mutation id backwards.
var ErrClientConflict = errors.New("client row conflict")

// LockClientGroup takes the row lock for the group and reads it.
// Returns found=false (and a zero group) when the row does not exist yet;
// the lock is held either way so a concurrent creator has to wait.
func (t *Tx) LockClientGroup(ctx context.Context, id string) (ir.ClientGroup, bool, error) {
	if err := t.lock(ctx, clientGroupLockKey(id)); err != nil {
		return ir.ClientGroup{}, false, fmt.Errorf("lock client group: %w", err)
	}

	g, err := scanClientGroup(t.tx.QueryRowContext(ctx, `
		SELECT id, owner_id, cvr_version, last_modified
		FROM client_groups
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ClientGroup{}, false, nil
	}
	if err != nil {
		return ir.ClientGroup{}, false, fmt.Errorf("lock client group: %w", err)
	}
	return g, true, nil
}

// LockClient takes the row lock for the client and reads it.
// Returns found=false (and a zero client) when the row does not exist yet.
func (t *Tx) LockClient(ctx context.Context, id string) (ir.Client, bool, error) {
	if err := t.lock(ctx, clientLockKey(id)); err != nil {
		return ir.Client{}, false, fmt.Errorf("lock client: %w", err)
	}

	c, err := scanClient(t.tx.QueryRowContext(ctx, `
		SELECT id, client_group_id, last_mutation_id, last_modified
		FROM clients
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Client{}, false, nil
	}
	if err != nil {
		return ir.Client{}, false, fmt.Errorf("lock client: %w", err)
	}
	return c, true, nil
}

// PutClientGroup inserts the group or bumps last_modified on the existing row.
// owner_id is written on insert only; cvr_version only ever grows.
func (t *Tx) PutClientGroup(ctx context.Context, g ir.ClientGroup) error {
	now := t.store.timestamp()
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO client_groups (id, owner_id, cvr_version, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cvr_version = MAX(client_groups.cvr_version, excluded.cvr_version),
			last_modified = excluded.last_modified
	`, g.ID, g.OwnerID, g.CVRVersion, now, now)
	if err != nil {
		return fmt.Errorf("put client group %s: %w", g.ID, err)
	}
	return nil
}

// PutClient inserts the client or advances last_mutation_id on the existing row.
//
// client_group_id is written on insert only. An update that names a
// different group or a smaller last_mutation_id is rejected with
// ErrClientConflict and leaves the row untouched.
func (t *Tx) PutClient(ctx context.Context, c ir.Client) error {
	now := t.store.timestamp()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO clients (id, client_group_id, last_mutation_id, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_mutation_id = excluded.last_mutation_id,
			last_modified = excluded.last_modified
		WHERE clients.client_group_id = excluded.client_group_id
			AND clients.last_mutation_id <= excluded.last_mutation_id
	`, c.ID, c.ClientGroupID, c.LastMutationID, now, now)
	if err != nil {
		return fmt.Errorf("put client %s: %w", c.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put client %s: rows affected: %w", c.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("put client %s (group %s, last mutation %d): %w",
			c.ID, c.ClientGroupID, c.LastMutationID, ErrClientConflict)
	}
	return nil
}

// ClientGroup reads a group outside any transaction.
func (s *Store) ClientGroup(ctx context.Context, id string) (ir.ClientGroup, bool, error) {
	g, err := scanClientGroup(s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, cvr_version, last_modified
		FROM client_groups
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.ClientGroup{}, false, nil
	}
	if err != nil {
		return ir.ClientGroup{}, false, fmt.Errorf("read client group: %w", err)
	}
	return g, true, nil
}

// Client reads a client outside any transaction.
func (s *Store) Client(ctx context.Context, id string) (ir.Client, bool, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `
		SELECT id, client_group_id, last_mutation_id, last_modified
		FROM clients
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Client{}, false, nil
	}
	if err != nil {
		return ir.Client{}, false, fmt.Errorf("read client: %w", err)
	}
	return c, true, nil
}

// ClientsInGroup returns every client of a group ordered by id.
// Returns an empty slice (not nil) when the group has no clients.
func (s *Store) ClientsInGroup(ctx context.Context, clientGroupID string) ([]ir.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_group_id, last_mutation_id, last_modified
		FROM clients
		WHERE client_group_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, clientGroupID)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	clients := []ir.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanClientGroup(row rowScanner) (ir.ClientGroup, error) {
	var g ir.ClientGroup
	var modified int64
	if err := row.Scan(&g.ID, &g.OwnerID, &g.CVRVersion, &modified); err != nil {
		return ir.ClientGroup{}, err
	}
	g.LastModified = fromMillis(modified)
	return g, nil
}

func scanClient(row rowScanner) (ir.Client, error) {
	var c ir.Client
	var modified int64
	if err := row.Scan(&c.ID, &c.ClientGroupID, &c.LastMutationID, &modified); err != nil {
		return ir.Client{}, err
	}
	c.LastModified = fromMillis(modified)
	return c, nil
}
