package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/replipush/internal/dispatch"
	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/store"
)

// Outcome is what a successful Apply did with the mutation.
type Outcome int

const (
	// OutcomeApplied means the handler ran and the sequence advanced.
	OutcomeApplied Outcome = iota + 1

	// OutcomeSkipped means error mode advanced the sequence without the handler.
	OutcomeSkipped

	// OutcomeReplayed means the mutation was already applied; nothing changed.
	OutcomeReplayed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeReplayed:
		return "replayed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Processor applies one mutation per transaction.
//
// Thread-safety: safe for concurrent use. Concurrent calls for the same
// client group serialize on its row lock.
type Processor struct {
	store    *store.Store
	registry *dispatch.Registry
	poker    notify.Poker
	log      *slog.Logger
}

// NewProcessor creates a Processor. A nil poker disables pokes; a nil
// logger means slog.Default().
func NewProcessor(s *store.Store, r *dispatch.Registry, p notify.Poker, logger *slog.Logger) *Processor {
	if p == nil {
		p = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: s, registry: r, poker: p, log: logger}
}

// Apply runs the mutation state machine for m inside one transaction.
//
// With errorMode set the handler is not invoked: the mutation is recorded
// as skipped and only the sequence advances. Ownership, membership and
// ordering checks apply in both modes.
func (p *Processor) Apply(ctx context.Context, actor ir.Actor, clientGroupID string, m ir.Mutation, errorMode bool) (Outcome, error) {
	return p.apply(ctx, p.log, actor, clientGroupID, m, errorMode, nil)
}

// apply is Apply with a request-scoped logger and, in error mode, the
// failure that caused the retry (kept as the skip reason).
func (p *Processor) apply(
	ctx context.Context,
	log *slog.Logger,
	actor ir.Actor,
	clientGroupID string,
	m ir.Mutation,
	errorMode bool,
	cause error,
) (Outcome, error) {
	start := time.Now()
	log = log.With(
		slog.String("client_group_id", clientGroupID),
		slog.String("client_id", m.ClientID),
		slog.Int64("mutation_id", m.ID),
		slog.String("name", m.Name),
		slog.Bool("error_mode", errorMode),
	)

	var outcome Outcome
	err := p.store.Transact(ctx, func(tx *store.Tx) error {
		outcome = 0

		group, found, err := tx.LockClientGroup(ctx, clientGroupID)
		if err != nil {
			return err
		}
		group = ir.OrDefault(group, found, ir.DefaultClientGroup(clientGroupID, actor))

		if group.OwnerID != actor.ID {
			return NewAuthorizationError(actor.ID, group.OwnerID, clientGroupID, m.ClientID, m.ID)
		}

		client, found, err := tx.LockClient(ctx, m.ClientID)
		if err != nil {
			return err
		}
		client = ir.OrDefault(client, found, ir.DefaultClient(m.ClientID, clientGroupID))

		if client.ClientGroupID != clientGroupID {
			return NewIntegrityError(client.ClientGroupID, clientGroupID, m.ClientID, m.ID)
		}

		expected := client.NextMutationID()
		if m.ID < expected {
			outcome = OutcomeReplayed
			return nil
		}
		if m.ID > expected {
			return NewSequenceGapError(expected, clientGroupID, m.ClientID, m.ID)
		}

		if errorMode {
			if err := p.recordSkipped(ctx, tx, clientGroupID, m, cause); err != nil {
				return err
			}
			outcome = OutcomeSkipped
		} else {
			if err := p.registry.Dispatch(ctx, tx, actor, m); err != nil {
				return NewHandlerError(m.Name, clientGroupID, m.ClientID, m.ID, err)
			}
			outcome = OutcomeApplied
		}

		if err := tx.PutClientGroup(ctx, group); err != nil {
			return err
		}
		client.LastMutationID = expected
		if err := tx.PutClient(ctx, client); err != nil {
			return err
		}

		tx.AfterCommit(func(ctx context.Context) error {
			return p.poker.Poke(ctx, notify.UserChannel(actor.ID))
		})
		return nil
	})
	if err != nil {
		log.Debug("mutation failed", slog.Any("error", err), slog.Duration("duration", time.Since(start)))
		return 0, err
	}

	switch outcome {
	case OutcomeReplayed:
		log.Info("mutation already processed, skipping")
	case OutcomeSkipped:
		log.Warn("mutation skipped in error mode", slog.Duration("duration", time.Since(start)))
	default:
		log.Info("processed mutation", slog.Duration("duration", time.Since(start)))
	}
	return outcome, nil
}

func (p *Processor) recordSkipped(ctx context.Context, tx *store.Tx, clientGroupID string, m ir.Mutation, cause error) error {
	digest, err := ir.MutationDigest(clientGroupID, m)
	if err != nil {
		// Args that are not even valid JSON still have to be skippable.
		digest = ""
	}
	args, err := ir.CanonicalArgs(m.Args)
	if err != nil {
		args = []byte(m.Args)
	}
	reason := "error mode"
	if cause != nil {
		reason = cause.Error()
	}
	return tx.RecordSkipped(ctx, store.SkippedMutation{
		ClientGroupID: clientGroupID,
		ClientID:      m.ClientID,
		MutationID:    m.ID,
		Name:          m.Name,
		Digest:        digest,
		Args:          string(args),
		Reason:        reason,
	})
}
