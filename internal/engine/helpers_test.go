package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replipush/internal/dispatch"
	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/mutators"
	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/store"
	"github.com/roach88/replipush/internal/testutil"
)

// effectsSchema records every business effect of the test-only handlers.
const effectsSchema = `
CREATE TABLE IF NOT EXISTS effects (
    seq   INTEGER PRIMARY KEY AUTOINCREMENT,
    value TEXT    NOT NULL
);
`

var (
	u1 = ir.Actor{ID: "u1"}
	u2 = ir.Actor{ID: "u2"}
)

var errAlwaysFails = errors.New("handler always fails")

type appendArgs struct {
	Value string `json:"value"`
}

type testEnv struct {
	store    *store.Store
	registry *dispatch.Registry
	pokes    *notify.Recorder
}

// newTestEnv opens a store with the user domain and two test handlers:
// "append" writes one effects row, "fail" always errors.
func newTestEnv(t *testing.T, opts ...store.Option) *testEnv {
	t.Helper()
	opts = append([]store.Option{
		store.WithSchema(mutators.Schema),
		store.WithSchema(effectsSchema),
		store.WithClock(testutil.NewDeterministicClock().Now),
		store.WithLogger(discardLogger()),
	}, opts...)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, mutators.SeedUsers(context.Background(), s,
		mutators.User{ID: "u1", Name: "Ada", Role: mutators.RoleAdministrator},
		mutators.User{ID: "u2", Name: "Grace", Role: mutators.RoleCustomer},
	))

	pokes := &notify.Recorder{}
	r := dispatch.NewRegistry()
	mutators.Register(r, pokes)
	dispatch.Register(r, "append", func(ctx context.Context, tx *store.Tx, actor ir.Actor, args appendArgs) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO effects (value) VALUES (?)`, args.Value)
		return err
	})
	dispatch.Register(r, "fail", func(ctx context.Context, tx *store.Tx, actor ir.Actor, args struct{}) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO effects (value) VALUES ('must roll back')`); err != nil {
			return err
		}
		return errAlwaysFails
	})

	return &testEnv{store: s, registry: r, pokes: pokes}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e *testEnv) pusher(opts ...Option) *Pusher {
	opts = append([]Option{WithLogger(discardLogger()), WithPoker(e.pokes)}, opts...)
	return New(e.store, e.registry, opts...)
}

func (e *testEnv) processor() *Processor {
	return NewProcessor(e.store, e.registry, e.pokes, discardLogger())
}

func mutation(clientID string, id int64, name string, args any) ir.Mutation {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return ir.Mutation{ID: id, ClientID: clientID, Name: name, Args: raw}
}

func appendMutation(clientID string, id int64, value string) ir.Mutation {
	return mutation(clientID, id, "append", appendArgs{Value: value})
}

func pushRequest(groupID string, ms ...ir.Mutation) ir.PushRequest {
	return ir.PushRequest{PushVersion: ir.PushVersion, ClientGroupID: groupID, Mutations: ms}
}

func (e *testEnv) lastMutationID(t *testing.T, clientID string) int64 {
	t.Helper()
	c, found, err := e.store.Client(context.Background(), clientID)
	require.NoError(t, err)
	if !found {
		return 0
	}
	return c.LastMutationID
}

func (e *testEnv) effects(t *testing.T) []string {
	t.Helper()
	rows, err := e.store.DB().Query(`SELECT value FROM effects ORDER BY seq`)
	require.NoError(t, err)
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}

func (e *testEnv) role(t *testing.T, userID string) mutators.Role {
	t.Helper()
	u, found, err := mutators.GetUser(context.Background(), e.store, userID)
	require.NoError(t, err)
	require.True(t, found)
	return u.Role
}
