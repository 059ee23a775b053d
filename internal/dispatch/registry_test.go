package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/store"
)

type greetArgs struct {
	Name  string `json:"name"`
	Times int    `json:"times"`
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// dispatchInTx runs one Dispatch call inside a transaction.
func dispatchInTx(t *testing.T, r *Registry, m ir.Mutation) error {
	t.Helper()
	s := openStore(t)
	return s.Transact(context.Background(), func(tx *store.Tx) error {
		return r.Dispatch(context.Background(), tx, ir.Actor{ID: "u1"}, m)
	})
}

func TestRegister_DecodesTypedArgs(t *testing.T) {
	r := NewRegistry()
	var got greetArgs
	var gotActor ir.Actor
	Register(r, "greet", func(ctx context.Context, tx *store.Tx, actor ir.Actor, args greetArgs) error {
		got = args
		gotActor = actor
		return nil
	})

	err := dispatchInTx(t, r, ir.Mutation{ID: 1, ClientID: "c1", Name: "greet", Args: json.RawMessage(`{"name":"ada","times":2}`)})
	require.NoError(t, err)
	assert.Equal(t, greetArgs{Name: "ada", Times: 2}, got)
	assert.Equal(t, "u1", gotActor.ID)
}

func TestRegister_MissingArgsDecodeAsZero(t *testing.T) {
	r := NewRegistry()
	called := false
	Register(r, "ping", func(ctx context.Context, tx *store.Tx, actor ir.Actor, args greetArgs) error {
		called = true
		assert.Equal(t, greetArgs{}, args)
		return nil
	})

	for _, raw := range []json.RawMessage{nil, json.RawMessage(`null`), json.RawMessage(`  `)} {
		called = false
		require.NoError(t, dispatchInTx(t, r, ir.Mutation{ID: 1, ClientID: "c1", Name: "ping", Args: raw}))
		assert.True(t, called)
	}
}

func TestRegister_RejectsBadArgs(t *testing.T) {
	r := NewRegistry()
	Register(r, "greet", func(ctx context.Context, tx *store.Tx, actor ir.Actor, args greetArgs) error {
		t.Fatal("handler must not run on bad args")
		return nil
	})

	tests := []struct {
		name string
		args string
	}{
		{"unknown field", `{"name":"ada","extra":true}`},
		{"wrong type", `{"name":42}`},
		{"trailing data", `{"name":"ada"} {}`},
		{"trailing brace", `{"name":"ada"}}`},
		{"trailing bracket", `{"name":"ada"}]`},
		{"not an object", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dispatchInTx(t, r, ir.Mutation{ID: 1, ClientID: "c1", Name: "greet", Args: json.RawMessage(tt.args)})
			var argsErr *ArgsError
			require.ErrorAs(t, err, &argsErr)
			assert.Equal(t, "greet", argsErr.Name)
		})
	}
}

func TestDispatch_UnknownMutation(t *testing.T) {
	r := NewRegistry()
	err := dispatchInTx(t, r, ir.Mutation{ID: 1, ClientID: "c1", Name: "nope"})
	require.ErrorIs(t, err, ErrUnknownMutation)
	assert.Contains(t, err.Error(), `"nope"`)
}

func TestDispatch_PropagatesHandlerError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	Register(r, "fail", func(ctx context.Context, tx *store.Tx, actor ir.Actor, args struct{}) error {
		return boom
	})

	err := dispatchInTx(t, r, ir.Mutation{ID: 1, ClientID: "c1", Name: "fail"})
	require.ErrorIs(t, err, boom)
}

func TestHandle_Panics(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *store.Tx, ir.Actor, json.RawMessage) error { return nil }
	r.Handle("a", noop)

	assert.Panics(t, func() { r.Handle("a", noop) }, "duplicate")
	assert.Panics(t, func() { r.Handle("", noop) }, "empty name")
	assert.Panics(t, func() { r.Handle("b", nil) }, "nil handler")
}

func TestNames(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *store.Tx, ir.Actor, json.RawMessage) error { return nil }
	r.Handle("setRole", noop)
	r.Handle("createUser", noop)
	r.Handle("renameUser", noop)

	assert.Equal(t, []string{"createUser", "renameUser", "setRole"}, r.Names())
	assert.True(t, r.Has("setRole"))
	assert.False(t, r.Has("deleteUser"))
	assert.Empty(t, NewRegistry().Names())
}
