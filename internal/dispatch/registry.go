// Package dispatch maps mutation names to the domain logic that applies them.
//
// Handlers run inside the engine's transaction and receive the same *store.Tx
// that holds the client group and client row locks. They must not take row
// locks of their own, and every side effect outside the database has to go
// through tx.AfterCommit.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/store"
)

// ErrUnknownMutation is returned by Dispatch for names nothing registered.
var ErrUnknownMutation = errors.New("unknown mutation")

// Handler applies one mutation. args is the raw JSON the client sent.
type Handler func(ctx context.Context, tx *store.Tx, actor ir.Actor, args json.RawMessage) error

// ArgsError reports mutation args that do not decode into the handler's type.
type ArgsError struct {
	Name string
	Err  error
}

func (e *ArgsError) Error() string {
	return fmt.Sprintf("invalid args for %s: %v", e.Name, e.Err)
}

func (e *ArgsError) Unwrap() error {
	return e.Err
}

// Registry holds the handler for every known mutation name.
//
// Registration happens at wiring time; after that the registry is read-only
// and safe for concurrent Dispatch calls.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Handle binds name to a raw handler.
// Panics if name is empty or already registered.
func (r *Registry) Handle(name string, h Handler) {
	if name == "" {
		panic("dispatch: empty mutation name")
	}
	if h == nil {
		panic("dispatch: nil handler for " + name)
	}
	if _, dup := r.handlers[name]; dup {
		panic("dispatch: duplicate handler for " + name)
	}
	r.handlers[name] = h
}

// Register binds name to a handler taking decoded args of type A.
//
// Args are decoded strictly: unknown fields and trailing data are rejected
// with *ArgsError before fn runs. Missing args decode as the zero A.
func Register[A any](r *Registry, name string, fn func(ctx context.Context, tx *store.Tx, actor ir.Actor, args A) error) {
	r.Handle(name, func(ctx context.Context, tx *store.Tx, actor ir.Actor, raw json.RawMessage) error {
		args, err := decodeArgs[A](raw)
		if err != nil {
			return &ArgsError{Name: name, Err: err}
		}
		return fn(ctx, tx, actor, args)
	})
}

func decodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return args, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return args, errors.New("trailing data after args")
	}
	return args, nil
}

// Dispatch runs the handler registered for m.Name.
func (r *Registry) Dispatch(ctx context.Context, tx *store.Tx, actor ir.Actor, m ir.Mutation) error {
	h, ok := r.handlers[m.Name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMutation, m.Name)
	}
	return h(ctx, tx, actor, m.Args)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Names returns every registered name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
