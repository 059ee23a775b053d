// Package mutators is a small user-administration domain wired into the
// dispatcher: the handlers the CLI, the scenario harness and the engine
// tests push against.
package mutators

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/replipush/internal/store"
)

// Schema is the DDL for the domain tables. Pass it to store.WithSchema.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id        TEXT    PRIMARY KEY,
    tenant_id TEXT    NOT NULL DEFAULT '',
    name      TEXT    NOT NULL,
    role      TEXT    NOT NULL CHECK (role IN ('administrator', 'manager', 'technician', 'customer')),
    version   INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id);
`

// Role is a user's access level.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleManager       Role = "manager"
	RoleTechnician    Role = "technician"
	RoleCustomer      Role = "customer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleManager, RoleTechnician, RoleCustomer:
		return true
	}
	return false
}

// User is one row of the users table. Version increments on every change.
type User struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Role     Role   `json:"role" yaml:"role"`
	Version  int64  `json:"version" yaml:"version"`
}

var (
	ErrForbidden   = errors.New("forbidden")
	ErrNotFound    = errors.New("user not found")
	ErrExists      = errors.New("user already exists")
	ErrInvalidRole = errors.New("invalid role")
	ErrInvalidName = errors.New("invalid name")
)

// querier is satisfied by *sql.DB and *store.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getUser(ctx context.Context, q querier, id string) (User, bool, error) {
	var u User
	err := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, role, version
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.TenantID, &u.Name, &u.Role, &u.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("read user %s: %w", id, err)
	}
	return u, true, nil
}

// GetUser reads one user outside any transaction.
func GetUser(ctx context.Context, s *store.Store, id string) (User, bool, error) {
	return getUser(ctx, s.DB(), id)
}

// ListUsers returns every user ordered by id.
// Returns an empty slice (not nil) when there are none.
func ListUsers(ctx context.Context, s *store.Store) ([]User, error) {
	rows, err := s.DB().QueryContext(ctx, `
		SELECT id, tenant_id, name, role, version
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Name, &u.Role, &u.Version); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// SeedUsers inserts users directly, bypassing the mutation path.
// Used to set up fixtures.
func SeedUsers(ctx context.Context, s *store.Store, users ...User) error {
	return s.Transact(ctx, func(tx *store.Tx) error {
		for _, u := range users {
			if err := insertUser(ctx, tx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertUser(ctx context.Context, tx *store.Tx, u User) error {
	if !u.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, u.Role)
	}
	if strings.TrimSpace(u.Name) == "" {
		return ErrInvalidName
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, name, role, version)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(id) DO NOTHING
	`, u.ID, u.TenantID, u.Name, string(u.Role))
	if err != nil {
		return fmt.Errorf("insert user %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user %s: rows affected: %w", u.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, u.ID)
	}
	return nil
}
