package store

import (
	"context"
	"fmt"
	"time"
)

// SkippedMutation is a poison mutation whose business effect was discarded
// by error mode. The sequence advanced past it; the record keeps it visible.
type SkippedMutation struct {
	ClientGroupID string
	ClientID      string
	MutationID    int64
	Name          string
	Digest        string
	Args          string // canonical JSON
	Reason        string
	SkippedAt     time.Time
}

// RecordSkipped appends a poison mutation to the skipped log.
// Recording the same (client, mutation id) twice is a no-op.
func (t *Tx) RecordSkipped(ctx context.Context, rec SkippedMutation) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO skipped_mutations
		(client_group_id, client_id, mutation_id, name, digest, args, reason, skipped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, mutation_id) DO NOTHING
	`,
		rec.ClientGroupID,
		rec.ClientID,
		rec.MutationID,
		rec.Name,
		rec.Digest,
		rec.Args,
		rec.Reason,
		t.store.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("record skipped mutation: %w", err)
	}
	return nil
}

// SkippedMutations lists the skipped log of one client in mutation id order.
// Returns an empty slice (not nil) if nothing was skipped.
func (s *Store) SkippedMutations(ctx context.Context, clientID string) ([]SkippedMutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_group_id, client_id, mutation_id, name, digest, args, reason, skipped_at
		FROM skipped_mutations
		WHERE client_id = ?
		ORDER BY mutation_id ASC
	`, clientID)
	if err != nil {
		return nil, fmt.Errorf("query skipped mutations: %w", err)
	}
	defer rows.Close()

	out := []SkippedMutation{}
	for rows.Next() {
		var rec SkippedMutation
		var skippedAt int64
		if err := rows.Scan(
			&rec.ClientGroupID,
			&rec.ClientID,
			&rec.MutationID,
			&rec.Name,
			&rec.Digest,
			&rec.Args,
			&rec.Reason,
			&skippedAt,
		); err != nil {
			return nil, fmt.Errorf("scan skipped mutation: %w", err)
		}
		rec.SkippedAt = fromMillis(skippedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skipped mutations: %w", err)
	}
	return out, nil
}
