package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/replipush/internal/dispatch"
	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/store"
)

// BatchPolicy decides what happens to the rest of a push once a mutation
// failed in error mode too.
type BatchPolicy int

const (
	// AbortBatch stops at the first persistent failure and returns it.
	// Mutations before it stay committed.
	AbortBatch BatchPolicy = iota

	// ContinueBatch fences the failing client for the rest of the push and
	// keeps applying mutations of other clients. All failures are returned
	// joined.
	ContinueBatch
)

func (b BatchPolicy) String() string {
	switch b {
	case AbortBatch:
		return "abort"
	case ContinueBatch:
		return "continue"
	default:
		return fmt.Sprintf("BatchPolicy(%d)", int(b))
	}
}

// ParseBatchPolicy parses "abort" or "continue".
func ParseBatchPolicy(s string) (BatchPolicy, error) {
	switch s {
	case "abort", "":
		return AbortBatch, nil
	case "continue":
		return ContinueBatch, nil
	default:
		return 0, fmt.Errorf("unknown batch policy %q (want abort or continue)", s)
	}
}

// ErrClientFenced marks mutations ContinueBatch did not attempt because an
// earlier mutation of the same client failed in this push.
var ErrClientFenced = errors.New("client fenced after earlier failure")

// MutationResult is what happened to one mutation of a push.
// Outcome is zero when Err is set.
type MutationResult struct {
	ClientID   string
	MutationID int64
	Name       string
	Outcome    Outcome
	Err        error
}

// Result summarizes a push.
type Result struct {
	PushID    string
	Mutations []MutationResult
}

// Count returns how many mutations ended with outcome o.
func (r Result) Count(o Outcome) int {
	n := 0
	for _, m := range r.Mutations {
		if m.Err == nil && m.Outcome == o {
			n++
		}
	}
	return n
}

// Failed returns how many mutations ended with an error.
func (r Result) Failed() int {
	n := 0
	for _, m := range r.Mutations {
		if m.Err != nil {
			n++
		}
	}
	return n
}

// Pusher processes push requests.
//
// Thread-safety: safe for concurrent use.
type Pusher struct {
	proc    *Processor
	policy  BatchPolicy
	ids     IDGenerator
	log     *slog.Logger
	poker   notify.Poker
	metrics *pushMetrics
}

// Option configures a Pusher.
type Option func(*Pusher)

// WithBatchPolicy sets the policy for persistent failures. Default: AbortBatch.
func WithBatchPolicy(b BatchPolicy) Option {
	return func(p *Pusher) {
		p.policy = b
	}
}

// WithIDGenerator sets the push id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(p *Pusher) {
		p.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pusher) {
		p.log = l
	}
}

// WithPoker sets where post-commit pokes go. Default: notify.Nop.
func WithPoker(pk notify.Poker) Option {
	return func(p *Pusher) {
		p.poker = pk
	}
}

// New creates a Pusher over s that dispatches mutations through r.
func New(s *store.Store, r *dispatch.Registry, opts ...Option) *Pusher {
	p := &Pusher{
		policy:  AbortBatch,
		ids:     UUIDv7Generator{},
		log:     slog.Default(),
		poker:   notify.Nop{},
		metrics: newPushMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.proc = NewProcessor(s, r, p.poker, p.log)
	return p
}

// Processor returns the processor the pusher applies mutations with.
func (p *Pusher) Processor() *Processor {
	return p.proc
}

// Push applies every mutation of req in array order as actor.
//
// Each mutation gets its own transaction. A mutation whose first attempt
// fails is retried once in error mode; what happens when that fails too is
// up to the BatchPolicy. Mutations committed before a failure are never
// undone.
func (p *Pusher) Push(ctx context.Context, actor ir.Actor, req ir.PushRequest) (Result, error) {
	res := Result{PushID: p.ids.Generate()}
	log := p.log.With(slog.String("push_id", res.PushID), slog.String("actor_id", actor.ID))
	p.metrics.pushes.Inc()

	if req.PushVersion != ir.PushVersion {
		log.Warn("rejecting push", slog.Int("push_version", req.PushVersion))
		return res, fmt.Errorf("%w: %d", ErrVersionNotSupported, req.PushVersion)
	}

	fenced := make(map[string]bool)
	var errs []error

	for _, m := range req.Mutations {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		mr := MutationResult{ClientID: m.ClientID, MutationID: m.ID, Name: m.Name}

		if fenced[m.ClientID] {
			log.Debug("not attempting mutation of fenced client",
				slog.String("client_id", m.ClientID), slog.Int64("mutation_id", m.ID))
			mr.Err = fmt.Errorf("mutation %d of client %s: %w", m.ID, m.ClientID, ErrClientFenced)
			res.Mutations = append(res.Mutations, mr)
			continue
		}

		start := time.Now()
		outcome, err := p.proc.apply(ctx, log, actor, req.ClientGroupID, m, false, nil)
		if err != nil && retryable(ctx, err) {
			log.Error("error processing mutation, retrying in error mode",
				slog.String("client_id", m.ClientID),
				slog.Int64("mutation_id", m.ID),
				slog.Any("error", err))
			outcome, err = p.proc.apply(ctx, log, actor, req.ClientGroupID, m, true, err)
		}

		if err != nil {
			log.Error("mutation failed in error mode",
				slog.String("client_id", m.ClientID),
				slog.Int64("mutation_id", m.ID),
				slog.Any("error", err))
			p.metrics.observe(outcomeFailed, start)
			mr.Err = err
			res.Mutations = append(res.Mutations, mr)

			if p.policy == AbortBatch {
				return res, err
			}
			fenced[m.ClientID] = true
			errs = append(errs, err)
			continue
		}

		p.metrics.observe(outcome.String(), start)
		mr.Outcome = outcome
		res.Mutations = append(res.Mutations, mr)
	}

	log.Info("push complete",
		slog.Int("applied", res.Count(OutcomeApplied)),
		slog.Int("skipped", res.Count(OutcomeSkipped)),
		slog.Int("replayed", res.Count(OutcomeReplayed)),
		slog.Int("failed", res.Failed()))

	return res, errors.Join(errs...)
}

// retryable reports whether an error-mode attempt can still help.
// A dead request context would fail the retry the same way.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// WriteMetrics writes this pusher's counters in Prometheus text format.
func (p *Pusher) WriteMetrics(w io.Writer) {
	p.metrics.write(w)
}
