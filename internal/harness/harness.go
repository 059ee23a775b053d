package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/replipush/internal/dispatch"
	"github.com/roach88/replipush/internal/engine"
	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/mutators"
	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/schema"
	"github.com/roach88/replipush/internal/store"
	"github.com/roach88/replipush/internal/testutil"
)

// Failure codes a push can end with besides engine.MutationErrorCode.
const (
	ErrCodeInvalidPush         = "INVALID_PUSH"
	ErrCodeVersionNotSupported = "VERSION_NOT_SUPPORTED"
	ErrCodeClientFenced        = "CLIENT_FENCED"
	ErrCodeOther               = "ERROR"
)

// Harness executes one scenario against its own database.
type Harness struct {
	store     *store.Store
	pusher    *engine.Pusher
	validator *schema.Validator
	poker     *notify.Recorder
	groups    []string
}

// Run executes a scenario and returns the result.
//
// Execution:
// 1. Create a fresh database in a temporary directory
// 2. Seed users
// 3. Submit every push, checking its expect clause
// 4. Read the final state and evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, cleanup, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	result := NewResult()
	h.submitAll(ctx, scenario, result)
	if err := h.finish(ctx, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, func(), error) {
	dir, err := os.MkdirTemp("", "replipush-scenario-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}

	// Suppress logs in scenarios
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock()

	st, err := store.Open(filepath.Join(dir, "scenario.db"),
		store.WithSchema(mutators.Schema),
		store.WithClock(clock.Now),
		store.WithLogger(logger),
	)
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	cleanup := func() {
		st.Close()
		os.RemoveAll(dir)
	}

	if err := mutators.SeedUsers(ctx, st, scenario.Users...); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to seed users: %w", err)
	}

	poker := &notify.Recorder{}
	registry := dispatch.NewRegistry()
	mutators.Register(registry, poker)

	validator, err := schema.NewValidator(registry.Names()...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to load push schema: %w", err)
	}

	// Already checked by validateScenario.
	policy, _ := engine.ParseBatchPolicy(scenario.BatchPolicy)

	h := &Harness{
		store:     st,
		validator: validator,
		poker:     poker,
		pusher: engine.New(st, registry,
			engine.WithBatchPolicy(policy),
			engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.PushID)),
			engine.WithLogger(logger),
			engine.WithPoker(poker),
		),
	}
	return h, cleanup, nil
}

func (h *Harness) submitAll(ctx context.Context, scenario *Scenario, result *Result) {
	for i, step := range scenario.Pushes {
		trace := h.submit(ctx, i, step)
		result.AddPush(trace)
		for _, msg := range checkExpect(i, step.Expect, trace) {
			result.AddError(msg)
		}
	}
}

// submit runs one push the way a server would: the body goes through JSON
// and schema validation before it reaches the engine.
func (h *Harness) submit(ctx context.Context, index int, step PushStep) PushTrace {
	trace := PushTrace{Push: index, Mutations: []MutationTrace{}}

	body, err := json.Marshal(step.Request)
	if err != nil {
		trace.Error = ErrCodeInvalidPush
		return trace
	}
	req, err := h.validator.Decode(body)
	if err != nil {
		trace.Error = ErrCodeInvalidPush
		return trace
	}
	h.noteGroup(req.ClientGroupID)

	res, err := h.pusher.Push(ctx, ir.Actor{ID: step.Actor, TenantID: step.Tenant}, req)
	trace.PushID = res.PushID
	trace.Error = errorCode(err)
	for _, m := range res.Mutations {
		mt := MutationTrace{ClientID: m.ClientID, MutationID: m.MutationID, Name: m.Name}
		if m.Err != nil {
			mt.Outcome = OutcomeFailed
			mt.Error = errorCode(m.Err)
		} else {
			mt.Outcome = m.Outcome.String()
		}
		trace.Mutations = append(trace.Mutations, mt)
	}
	return trace
}

func (h *Harness) noteGroup(id string) {
	if !slices.Contains(h.groups, id) {
		h.groups = append(h.groups, id)
	}
}

// errorCode maps a push or mutation error to a stable code.
// Under the continue policy a joined error reports its first code.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrVersionNotSupported):
		return ErrCodeVersionNotSupported
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, engine.ErrClientFenced) {
		return ErrCodeClientFenced
	}
	return ErrCodeOther
}

func checkExpect(index int, expect *PushExpect, trace PushTrace) []string {
	var errs []string
	want := ""
	if expect != nil {
		want = expect.Error
	}
	if trace.Error != want {
		errs = append(errs, fmt.Sprintf("push %d: expected error %q, got %q", index, want, trace.Error))
	}

	if expect == nil || expect.Outcomes == nil {
		return errs
	}
	got := make([]string, len(trace.Mutations))
	for i, m := range trace.Mutations {
		got[i] = m.Outcome
	}
	if !slices.Equal(got, expect.Outcomes) {
		errs = append(errs, fmt.Sprintf("push %d: expected outcomes %v, got %v", index, expect.Outcomes, got))
	}
	return errs
}

func (h *Harness) finish(ctx context.Context, scenario *Scenario, result *Result) error {
	state, err := h.readState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read final state: %w", err)
	}
	result.State = state
	result.Pokes = h.poker.Pokes()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return nil
}

// readState reads every user plus the groups the scenario pushed to,
// their clients and their skipped mutations.
func (h *Harness) readState(ctx context.Context) (State, error) {
	state := State{
		ClientGroups: []ir.ClientGroup{},
		Clients:      []ir.Client{},
		Skipped:      []SkippedRow{},
	}

	users, err := mutators.ListUsers(ctx, h.store)
	if err != nil {
		return State{}, err
	}
	state.Users = users

	groups := slices.Clone(h.groups)
	slices.Sort(groups)
	for _, id := range groups {
		g, found, err := h.store.ClientGroup(ctx, id)
		if err != nil {
			return State{}, err
		}
		if !found {
			continue
		}
		state.ClientGroups = append(state.ClientGroups, g)

		clients, err := h.store.ClientsInGroup(ctx, id)
		if err != nil {
			return State{}, err
		}
		state.Clients = append(state.Clients, clients...)

		for _, c := range clients {
			recs, err := h.store.SkippedMutations(ctx, c.ID)
			if err != nil {
				return State{}, err
			}
			for _, rec := range recs {
				state.Skipped = append(state.Skipped, SkippedRow{
					ClientID:   rec.ClientID,
					MutationID: rec.MutationID,
					Name:       rec.Name,
					Args:       rec.Args,
					Reason:     rec.Reason,
					SkippedAt:  rec.SkippedAt,
				})
			}
		}
	}
	return state, nil
}
