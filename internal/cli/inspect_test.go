package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect_ShowsGroup(t *testing.T) {
	db := seedDB(t)
	path := writeFile(t, "push.jsonc", setRolePush)
	_, _, err := execute(t, "--db", db, "push", "--actor", "u1", "--tenant", "t1", path)
	require.NoError(t, err)

	stdout, _, err := execute(t, "--db", db, "inspect", "g1")
	require.NoError(t, err)
	assert.Equal(t, "client group g1 (owner u1, cvr 0)\n  c1 last_mutation_id=2\n", stdout)

	stdout, _, err = execute(t, "--db", db, "--format", "json", "inspect", "g1")
	require.NoError(t, err)
	var resp struct {
		Data GroupReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "u1", resp.Data.Group.OwnerID)
	require.Len(t, resp.Data.Clients, 1)
	assert.Equal(t, int64(2), resp.Data.Clients[0].LastMutationID)
}

func TestInspect_NotFound(t *testing.T) {
	db := seedDB(t)

	stdout, _, err := execute(t, "--db", db, "inspect", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [NOT_FOUND]")
}

func TestSkipped_Empty(t *testing.T) {
	db := seedDB(t)

	stdout, _, err := execute(t, "--db", db, "skipped", "c9")
	require.NoError(t, err)
	assert.Equal(t, "no skipped mutations for client c9\n", stdout)

	stdout, _, err = execute(t, "--db", db, "--format", "json", "skipped", "c9")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"mutations":[]`)
}
