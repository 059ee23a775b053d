package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replipush/internal/mutators"
	"github.com/roach88/replipush/internal/store"
)

// seedDB creates a database with an administrator u1 and a customer u2,
// both in tenant t1, and returns its path.
func seedDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.db")
	st, err := store.Open(path, store.WithSchema(mutators.Schema))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, mutators.SeedUsers(context.Background(), st,
		mutators.User{ID: "u1", TenantID: "t1", Name: "Ada", Role: mutators.RoleAdministrator},
		mutators.User{ID: "u2", TenantID: "t1", Name: "Bob", Role: mutators.RoleCustomer},
	))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func openDB(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path, store.WithSchema(mutators.Schema))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

const setRolePush = `{
	// promote Bob
	"pushVersion": 1,
	"clientGroupID": "g1",
	"mutations": [
		{"id": 1, "clientID": "c1", "name": "setRole", "args": {"user": "u2", "role": "manager"}},
		{"id": 2, "clientID": "c1", "name": "renameUser", "args": {"user": "u2", "name": "Robert"}},
	]
}`
