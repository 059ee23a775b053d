package harness

import (
	"time"

	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/mutators"
)

// PushTrace records what one push of a scenario did.
type PushTrace struct {
	Push   int    `json:"push"`
	PushID string `json:"push_id"`

	// Error is the failure code of the push, empty on success.
	Error string `json:"error,omitempty"`

	Mutations []MutationTrace `json:"mutations"`
}

// MutationTrace records the outcome of one mutation.
type MutationTrace struct {
	ClientID   string `json:"client_id"`
	MutationID int64  `json:"id"`
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// SkippedRow is a skipped mutation as it appears in a snapshot.
// The digest is left out; it is covered by the ir tests.
type SkippedRow struct {
	ClientID   string    `json:"client_id"`
	MutationID int64     `json:"id"`
	Name       string    `json:"name"`
	Args       string    `json:"args"`
	Reason     string    `json:"reason"`
	SkippedAt  time.Time `json:"skipped_at"`
}

// State is the final content of every table a scenario touched.
type State struct {
	Users        []mutators.User  `json:"users"`
	ClientGroups []ir.ClientGroup `json:"client_groups"`
	Clients      []ir.Client      `json:"clients"`
	Skipped      []SkippedRow     `json:"skipped"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one entry per push, in submission order.
	Trace []PushTrace `json:"trace"`

	// Pokes holds the channels of every poke, one entry per Poke call.
	Pokes [][]string `json:"pokes"`

	// State is read after the last push.
	State State `json:"state"`

	// Errors contains failed expectations and assertions.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []PushTrace{},
		Pokes:  [][]string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddPush appends the trace of one push.
func (r *Result) AddPush(p PushTrace) {
	r.Trace = append(r.Trace, p)
}
