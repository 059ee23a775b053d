package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/roach88/replipush/internal/engine"
)

// CheckReplay runs a scenario, then submits every push a second time on the
// same database, the way a client retries after a lost response.
//
// The replay round must not apply anything twice: each mutation that was
// applied, skipped or replayed in the first round has to come back as
// replayed. If the replay round applied nothing new, the final state must
// be unchanged. Violations are added to the returned result's Errors.
func CheckReplay(ctx context.Context, scenario *Scenario) (*Result, error) {
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
	before := result.State

	done := make(map[string]bool)
	for _, p := range result.Trace {
		for _, m := range p.Mutations {
			if m.Outcome != OutcomeFailed {
				done[mutationKey(m)] = true
			}
		}
	}

	progressed := false
	for i, step := range scenario.Pushes {
		trace := h.submit(ctx, i, step)
		for _, m := range trace.Mutations {
			switch {
			case done[mutationKey(m)] && m.Outcome != engine.OutcomeReplayed.String():
				result.AddError(fmt.Sprintf("replay of push %d: mutation %s was %s again", i, mutationKey(m), m.Outcome))
			case m.Outcome == engine.OutcomeApplied.String() || m.Outcome == engine.OutcomeSkipped.String():
				progressed = true
			}
		}
	}

	if !progressed {
		after, err := h.readState(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read state after replay: %w", err)
		}
		if !reflect.DeepEqual(before, after) {
			result.AddError("replay round changed state without applying any mutation")
		}
	}
	return result, nil
}

func mutationKey(m MutationTrace) string {
	return fmt.Sprintf("%s#%d", m.ClientID, m.MutationID)
}

// ValidationResult summarizes a directory of scenarios.
type ValidationResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a failed scenario.
type ScenarioFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// ValidateScenarios loads every *.yaml scenario in dir and checks both a
// plain run and the replay round.
func ValidateScenarios(ctx context.Context, dir string) (*ValidationResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	result := &ValidationResult{}
	fail := func(path, msg string) {
		result.Failed++
		result.Failures = append(result.Failures, ScenarioFailure{ScenarioPath: path, Error: msg})
	}

	for _, path := range paths {
		result.TotalScenarios++

		scenario, err := LoadScenario(path)
		if err != nil {
			fail(path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := Run(ctx, scenario)
		if err != nil {
			fail(path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !runResult.Pass {
			fail(path, fmt.Sprintf("scenario assertions failed: %v", runResult.Errors))
			continue
		}

		replayResult, err := CheckReplay(ctx, scenario)
		if err != nil {
			fail(path, fmt.Sprintf("replay execution failed: %v", err))
			continue
		}
		if !replayResult.Pass {
			fail(path, fmt.Sprintf("replay failed: %v", replayResult.Errors))
			continue
		}

		result.Passed++
	}

	return result, nil
}
