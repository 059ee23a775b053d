package mutators

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/replipush/internal/dispatch"
	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/store"
)

// Mutation names.
const (
	NameSetRole    = "setRole"
	NameCreateUser = "createUser"
	NameRenameUser = "renameUser"
)

type SetRoleArgs struct {
	User string `json:"user"`
	Role Role   `json:"role"`
}

type CreateUserArgs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type RenameUserArgs struct {
	User string `json:"user"`
	Name string `json:"name"`
}

// Register wires every handler into r. Successful handlers poke the actor's
// tenant channel through p once the transaction commits.
func Register(r *dispatch.Registry, p notify.Poker) {
	h := handlers{poker: p}
	dispatch.Register(r, NameSetRole, h.setRole)
	dispatch.Register(r, NameCreateUser, h.createUser)
	dispatch.Register(r, NameRenameUser, h.renameUser)
}

type handlers struct {
	poker notify.Poker
}

// authorize loads the acting user and checks it may administer users.
func authorize(ctx context.Context, tx *store.Tx, actor ir.Actor) error {
	u, found, err := getUser(ctx, tx, actor.ID)
	if err != nil {
		return err
	}
	if !found || u.TenantID != actor.TenantID || u.Role != RoleAdministrator {
		return fmt.Errorf("%w: %s may not administer users", ErrForbidden, actor.ID)
	}
	return nil
}

// loadTarget reads a user in the actor's tenant.
func loadTarget(ctx context.Context, tx *store.Tx, actor ir.Actor, id string) (User, error) {
	u, found, err := getUser(ctx, tx, id)
	if err != nil {
		return User{}, err
	}
	if !found || u.TenantID != actor.TenantID {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return u, nil
}

func (h handlers) pokeTenant(tx *store.Tx, actor ir.Actor) {
	if actor.TenantID == "" {
		return
	}
	tx.AfterCommit(func(ctx context.Context) error {
		return h.poker.Poke(ctx, notify.TenantChannel(actor.TenantID))
	})
}

func (h handlers) setRole(ctx context.Context, tx *store.Tx, actor ir.Actor, args SetRoleArgs) error {
	if !args.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, args.Role)
	}
	if err := authorize(ctx, tx, actor); err != nil {
		return err
	}
	if args.User == actor.ID {
		return fmt.Errorf("%w: cannot change own role", ErrForbidden)
	}
	target, err := loadTarget(ctx, tx, actor, args.User)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET role = ?, version = version + 1 WHERE id = ?
	`, string(args.Role), target.ID); err != nil {
		return fmt.Errorf("update role of %s: %w", target.ID, err)
	}
	h.pokeTenant(tx, actor)
	return nil
}

func (h handlers) createUser(ctx context.Context, tx *store.Tx, actor ir.Actor, args CreateUserArgs) error {
	if strings.TrimSpace(args.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidName)
	}
	if err := authorize(ctx, tx, actor); err != nil {
		return err
	}
	if err := insertUser(ctx, tx, User{
		ID:       args.ID,
		TenantID: actor.TenantID,
		Name:     args.Name,
		Role:     args.Role,
	}); err != nil {
		return err
	}
	h.pokeTenant(tx, actor)
	return nil
}

func (h handlers) renameUser(ctx context.Context, tx *store.Tx, actor ir.Actor, args RenameUserArgs) error {
	name := strings.TrimSpace(args.Name)
	if name == "" {
		return ErrInvalidName
	}
	// Users may rename themselves; renaming others needs administrator.
	if args.User != actor.ID {
		if err := authorize(ctx, tx, actor); err != nil {
			return err
		}
	}
	target, err := loadTarget(ctx, tx, actor, args.User)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET name = ?, version = version + 1 WHERE id = ?
	`, name, target.ID); err != nil {
		return fmt.Errorf("rename %s: %w", target.ID, err)
	}
	h.pokeTenant(tx, actor)
	return nil
}
