package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, y string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(y))
	require.NoError(t, err)
	return s
}

func TestRun_MinimalScenario(t *testing.T) {
	result, err := Run(context.Background(), mustParse(t, minimalScenario))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "test-push-default", result.Trace[0].PushID)
	require.Len(t, result.Trace[0].Mutations, 1)
	assert.Equal(t, "applied", result.Trace[0].Mutations[0].Outcome)

	require.Len(t, result.State.Users, 1)
	assert.Equal(t, "Ada L", result.State.Users[0].Name)
	require.Len(t, result.State.Clients, 1)
	assert.Equal(t, int64(1), result.State.Clients[0].LastMutationID)
	assert.Equal(t, [][]string{{"user/u1"}}, result.Pokes)
}

func TestRun_Deterministic(t *testing.T) {
	s := mustParse(t, minimalScenario)

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	a, err := MarshalSnapshot(s.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FreshDatabasePerRun(t *testing.T) {
	s := mustParse(t, minimalScenario)

	for range 2 {
		result, err := Run(context.Background(), s)
		require.NoError(t, err)
		// A shared database would replay the mutation the second time.
		assert.Equal(t, "applied", result.Trace[0].Mutations[0].Outcome)
	}
}

func TestRun_ExpectationMismatch(t *testing.T) {
	s := mustParse(t, `
name: mismatch
description: "Expects the wrong outcome"
users:
  - {id: u1, name: Ada, role: administrator}
pushes:
  - actor: u1
    request:
      pushVersion: 1
      clientGroupID: cg1
      mutations:
        - {id: 1, clientID: c1, name: renameUser, args: {user: u1, name: Ada L}}
    expect:
      error: SEQUENCE_GAP
      outcomes: [replayed]
assertions:
  - {type: poked, channel: user/u1}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `push 0: expected error "SEQUENCE_GAP", got ""`)
	assert.Contains(t, result.Errors[1], "expected outcomes [replayed], got [applied]")
}

func TestRun_AssertionFailure(t *testing.T) {
	s := mustParse(t, `
name: failing_assertion
description: "Asserts a role that was never set"
users:
  - {id: u1, name: Ada, role: administrator}
pushes:
  - actor: u1
    request:
      pushVersion: 1
      clientGroupID: cg1
      mutations: []
assertions:
  - type: user
    id: u1
    expect: {role: customer}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Assertion failed: user")
	assert.Contains(t, result.Errors[0], "field role = administrator")
}

func TestRun_EmptyPushCreatesNothing(t *testing.T) {
	s := mustParse(t, `
name: empty_push
description: "A push without mutations"
users:
  - {id: u1, name: Ada, role: administrator}
pushes:
  - actor: u1
    request: {pushVersion: 1, clientGroupID: cg1, mutations: []}
assertions:
  - {type: skipped_count, id: c1, count: 0}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.State.ClientGroups)
	assert.Empty(t, result.State.Clients)
	assert.Empty(t, result.Pokes)
}

func TestRun_SeedFailure(t *testing.T) {
	s := mustParse(t, minimalScenario)
	s.Users = append(s.Users, s.Users[0])

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to seed users")
}

func TestRun_ExampleScenariosPass(t *testing.T) {
	for _, name := range []string{"promote_customer", "poison_and_ownership", "continue_policy"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ContinuePolicyTrace(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/continue_policy.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Trace, 3)

	muts := result.Trace[0].Mutations
	require.Len(t, muts, 4)
	assert.Equal(t, "SEQUENCE_GAP", muts[1].Error)
	assert.Equal(t, ErrCodeClientFenced, muts[2].Error)
	assert.Equal(t, "push-continue", result.Trace[0].PushID)

	assert.Equal(t, ErrCodeVersionNotSupported, result.Trace[1].Error)
	assert.Empty(t, result.Trace[1].Mutations)
	assert.Equal(t, ErrCodeInvalidPush, result.Trace[2].Error)
	assert.Empty(t, result.Trace[2].PushID)
}
