package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/mutators"
	"github.com/roach88/replipush/internal/store"
)

func seed(t *testing.T, s *store.Store, groupID, ownerID, clientID string, last int64) {
	t.Helper()
	ctx := context.Background()
	err := s.Transact(ctx, func(tx *store.Tx) error {
		if err := tx.PutClientGroup(ctx, ir.ClientGroup{ID: groupID, OwnerID: ownerID}); err != nil {
			return err
		}
		return tx.PutClient(ctx, ir.Client{ID: clientID, ClientGroupID: groupID, LastMutationID: last})
	})
	require.NoError(t, err)
}

func TestApply_CreatesGroupAndClientOnFirstMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	outcome, err := env.processor().Apply(ctx, u1, "cg1", appendMutation("c1", 1, "one"), false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	g, found, err := env.store.ClientGroup(ctx, "cg1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "u1", g.OwnerID)
	assert.Equal(t, int64(0), g.CVRVersion)

	c, found, err := env.store.Client(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "cg1", c.ClientGroupID)
	assert.Equal(t, int64(1), c.LastMutationID)

	assert.Equal(t, []string{"one"}, env.effects(t))
	assert.Equal(t, []string{"user/u1"}, env.pokes.Channels())
}

func TestApply_ConcreteScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 0)
	p := env.processor()

	setRole := mutation("c1", 1, mutators.NameSetRole, mutators.SetRoleArgs{User: "u2", Role: mutators.RoleManager})

	outcome, err := p.Apply(ctx, u1, "cg1", setRole, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, int64(1), env.lastMutationID(t, "c1"))
	assert.Equal(t, mutators.RoleManager, env.role(t, "u2"))

	before, _, err := mutators.GetUser(ctx, env.store, "u2")
	require.NoError(t, err)

	// identical re-push changes nothing
	outcome, err = p.Apply(ctx, u1, "cg1", setRole, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, outcome)
	assert.Equal(t, int64(1), env.lastMutationID(t, "c1"))
	after, _, err := mutators.GetUser(ctx, env.store, "u2")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// jumping ahead is a sequence gap
	gap := setRole
	gap.ID = 3
	_, err = p.Apply(ctx, u1, "cg1", gap, false)
	require.Error(t, err)
	assert.True(t, IsSequenceGapError(err))
	assert.Equal(t, int64(1), env.lastMutationID(t, "c1"))
}

func TestApply_ReplayDoesNotWriteOrPoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 4)

	before, _, err := env.store.Client(ctx, "c1")
	require.NoError(t, err)

	for _, id := range []int64{1, 4} {
		outcome, err := env.processor().Apply(ctx, u1, "cg1", appendMutation("c1", id, "again"), false)
		require.NoError(t, err)
		assert.Equal(t, OutcomeReplayed, outcome)
	}

	after, _, err := env.store.Client(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "last_modified must not move on replay")
	assert.Empty(t, env.effects(t))
	assert.Empty(t, env.pokes.Pokes())
}

func TestApply_SequenceGapWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.processor().Apply(ctx, u1, "cg1", appendMutation("c1", 2, "two"), false)
	require.Error(t, err)
	assert.True(t, IsSequenceGapError(err))

	var me *MutationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "cg1", me.ClientGroupID)
	assert.Equal(t, "c1", me.ClientID)
	assert.Equal(t, int64(2), me.MutationID)

	_, found, err := env.store.ClientGroup(ctx, "cg1")
	require.NoError(t, err)
	assert.False(t, found, "a rejected first mutation must not create the group")
	assert.Empty(t, env.effects(t))
	assert.Empty(t, env.pokes.Pokes())
}

func TestApply_OwnershipIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 0)

	for _, errorMode := range []bool{false, true} {
		_, err := env.processor().Apply(ctx, u2, "cg1", appendMutation("c1", 1, "intruder"), errorMode)
		require.Error(t, err)
		assert.True(t, IsAuthorizationError(err), "error mode %v", errorMode)
	}

	// a new client in someone else's group is rejected before it is created
	_, err := env.processor().Apply(ctx, u2, "cg1", appendMutation("c9", 1, "intruder"), false)
	require.True(t, IsAuthorizationError(err))

	assert.Equal(t, int64(0), env.lastMutationID(t, "c1"))
	_, found, err := env.store.Client(ctx, "c9")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, env.effects(t))

	skipped, err := env.store.SkippedMutations(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, skipped)
}

func TestApply_ClientInOtherGroup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 0)

	_, err := env.processor().Apply(ctx, u1, "cg2", appendMutation("c1", 1, "moved"), false)
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	_, found, err := env.store.ClientGroup(ctx, "cg2")
	require.NoError(t, err)
	assert.False(t, found)

	c, _, err := env.store.Client(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "cg1", c.ClientGroupID)
	assert.Equal(t, int64(0), c.LastMutationID)
}

func TestApply_HandlerErrorRollsBackEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 0)

	_, err := env.processor().Apply(ctx, u1, "cg1", mutation("c1", 1, "fail", nil), false)
	require.Error(t, err)
	assert.True(t, IsHandlerError(err))
	require.ErrorIs(t, err, errAlwaysFails)

	assert.Equal(t, int64(0), env.lastMutationID(t, "c1"))
	assert.Empty(t, env.effects(t), "the handler's own write must roll back")
	assert.Empty(t, env.pokes.Pokes())
}

func TestApply_ErrorModeSkipsHandler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 0)

	outcome, err := env.processor().Apply(ctx, u1, "cg1", appendMutation("c1", 1, "never"), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	assert.Equal(t, int64(1), env.lastMutationID(t, "c1"))
	assert.Empty(t, env.effects(t))
	assert.Equal(t, []string{"user/u1"}, env.pokes.Channels())

	skipped, err := env.store.SkippedMutations(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, int64(1), skipped[0].MutationID)
	assert.Equal(t, "append", skipped[0].Name)
	assert.Equal(t, `{"value":"never"}`, skipped[0].Args)
	assert.Equal(t, "error mode", skipped[0].Reason)
	assert.Len(t, skipped[0].Digest, 64)
}

func TestApply_ErrorModeStillChecksOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 2)

	_, err := env.processor().Apply(ctx, u1, "cg1", appendMutation("c1", 5, "x"), true)
	require.True(t, IsSequenceGapError(err))

	outcome, err := env.processor().Apply(ctx, u1, "cg1", appendMutation("c1", 2, "x"), true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, outcome)

	assert.Equal(t, int64(2), env.lastMutationID(t, "c1"))
	skipped, err := env.store.SkippedMutations(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, skipped)
}

func TestApply_UnknownMutationIsHandlerError(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.processor().Apply(context.Background(), u1, "cg1", mutation("c1", 1, "noSuchMutation", nil), false)
	require.Error(t, err)
	assert.True(t, IsHandlerError(err))
	assert.Equal(t, int64(0), env.lastMutationID(t, "c1"))
}

func TestApply_GroupTouchKeepsOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seed(t, env.store, "cg1", "u1", "c1", 0)

	before, _, err := env.store.ClientGroup(ctx, "cg1")
	require.NoError(t, err)

	_, err = env.processor().Apply(ctx, u1, "cg1", appendMutation("c2", 1, "second tab"), false)
	require.NoError(t, err)

	after, _, err := env.store.ClientGroup(ctx, "cg1")
	require.NoError(t, err)
	assert.Equal(t, "u1", after.OwnerID)
	assert.True(t, after.LastModified.After(before.LastModified))

	clients, err := env.store.ClientsInGroup(ctx, "cg1")
	require.NoError(t, err)
	assert.Len(t, clients, 2)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "applied", OutcomeApplied.String())
	assert.Equal(t, "skipped", OutcomeSkipped.String())
	assert.Equal(t, "replayed", OutcomeReplayed.String())
	assert.Equal(t, "Outcome(0)", Outcome(0).String())
}
