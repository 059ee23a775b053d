package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replipush/internal/engine"
	"github.com/roach88/replipush/internal/mutators"
)

// Scenario defines an end-to-end push scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Users are seeded before the first push, bypassing the mutation path.
	Users []mutators.User `yaml:"users,omitempty"`

	// BatchPolicy is "abort" (default) or "continue".
	BatchPolicy string `yaml:"batch_policy,omitempty"`

	// Pushes are submitted in order, each as its own push request.
	Pushes []PushStep `yaml:"pushes"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`

	// PushID is the fixed push id for deterministic snapshots.
	// If empty, defaults to "test-push-default".
	PushID string `yaml:"push_id,omitempty"`
}

// PushStep is one push request submitted as an actor.
type PushStep struct {
	Actor  string `yaml:"actor"`
	Tenant string `yaml:"tenant,omitempty"`

	// Request is the push body. It is re-encoded as JSON and goes through
	// schema validation like any wire request.
	Request map[string]any `yaml:"request"`

	// Expect specifies the expected push result.
	// If nil, the push is expected to succeed.
	Expect *PushExpect `yaml:"expect,omitempty"`
}

// PushExpect specifies the expected result of a push.
type PushExpect struct {
	// Error is the expected failure code (UNAUTHORIZED, INTEGRITY,
	// SEQUENCE_GAP, HANDLER, INVALID_PUSH, VERSION_NOT_SUPPORTED).
	// Empty means the push must succeed.
	Error string `yaml:"error,omitempty"`

	// Outcomes lists the expected outcome of each attempted mutation
	// (applied, skipped, replayed, failed). If nil, outcomes are not checked.
	Outcomes []string `yaml:"outcomes,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "user": users row with ID matches Expect
	// - "client": clients row with ID matches Expect
	// - "client_group": client_groups row with ID matches Expect
	// - "skipped_count": client ID has exactly Count skipped mutations
	// - "poked": Channel was poked at least once
	Type string `yaml:"type"`

	// ID is the row id (user, client, client_group, skipped_count).
	ID string `yaml:"id,omitempty"`

	// Expect contains expected field values. Subset match: only the
	// specified fields are compared.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of rows (skipped_count).
	Count int `yaml:"count,omitempty"`

	// Channel is the poke channel (poked).
	Channel string `yaml:"channel,omitempty"`
}

// Assertion type constants.
const (
	AssertUser         = "user"
	AssertClient       = "client"
	AssertClientGroup  = "client_group"
	AssertSkippedCount = "skipped_count"
	AssertPoked        = "poked"
)

// Outcome labels used in expectations and traces.
const (
	OutcomeFailed = "failed"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := engine.ParseBatchPolicy(s.BatchPolicy); err != nil {
		return fmt.Errorf("batch_policy: %w", err)
	}
	if len(s.Pushes) == 0 {
		return fmt.Errorf("pushes list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, u := range s.Users {
		if u.ID == "" {
			return fmt.Errorf("users[%d]: id is required", i)
		}
		if !u.Role.Valid() {
			return fmt.Errorf("users[%d]: invalid role %q", i, u.Role)
		}
	}

	for i, p := range s.Pushes {
		if p.Actor == "" {
			return fmt.Errorf("pushes[%d]: actor is required", i)
		}
		if p.Request == nil {
			return fmt.Errorf("pushes[%d]: request is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertUser, AssertClient, AssertClientGroup:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertSkippedCount:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for skipped_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for skipped_count", index)
		}
	case AssertPoked:
		if a.Channel == "" {
			return fmt.Errorf("assertions[%d]: channel is required for poked", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
