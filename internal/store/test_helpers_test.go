package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/testutil"
)

// createTestStore creates a new store in a temp dir with a deterministic clock.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithClock(testutil.NewDeterministicClock().Now)}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedClient persists a group and a client in one transaction.
func seedClient(t *testing.T, s *Store, groupID, ownerID, clientID string, lastMutationID int64) {
	t.Helper()
	err := s.Transact(context.Background(), func(tx *Tx) error {
		if err := tx.PutClientGroup(context.Background(), ir.ClientGroup{ID: groupID, OwnerID: ownerID}); err != nil {
			return err
		}
		return tx.PutClient(context.Background(), ir.Client{
			ID:             clientID,
			ClientGroupID:  groupID,
			LastMutationID: lastMutationID,
		})
	})
	if err != nil {
		t.Fatalf("seedClient() failed: %v", err)
	}
}
