package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string      // Assertion type for categorization
	Expected string      // Human-readable expected outcome
	Actual   string      // Human-readable actual outcome
	Trace    []PushTrace // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, p := range e.Trace {
		fmt.Fprintf(&buf, "  push %d", p.Push)
		if p.Error != "" {
			fmt.Fprintf(&buf, " (%s)", p.Error)
		}
		buf.WriteByte('\n')
		for _, m := range p.Mutations {
			fmt.Fprintf(&buf, "    %s #%d %s: %s\n", m.ClientID, m.MutationID, m.Name, m.Outcome)
		}
	}

	return buf.String()
}

// assertRow checks the row with the assertion's id against its expect map.
// rows must be JSON-encodable structs with an "id" field.
func assertRow[T any](result *Result, a Assertion, rows []T) error {
	for _, row := range rows {
		fields, err := toFields(row)
		if err != nil {
			return err
		}
		if fields["id"] != a.ID {
			continue
		}
		if mismatch := matchFields(fields, a.Expect); mismatch != "" {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s %s with %s", a.Type, a.ID, formatFields(a.Expect)),
				Actual:   mismatch,
				Trace:    result.Trace,
			}
		}
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s %s with %s", a.Type, a.ID, formatFields(a.Expect)),
		Actual:   fmt.Sprintf("no %s with id %q", a.Type, a.ID),
		Trace:    result.Trace,
	}
}

func assertSkippedCount(result *Result, a Assertion) error {
	n := 0
	for _, s := range result.State.Skipped {
		if s.ClientID == a.ID {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d skipped mutation(s) for client %s", a.Count, a.ID),
			Actual:   fmt.Sprintf("%d", n),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertPoked(result *Result, a Assertion) error {
	for _, p := range result.Pokes {
		if slices.Contains(p, a.Channel) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("a poke on %s", a.Channel),
		Actual:   fmt.Sprintf("pokes %v", result.Pokes),
		Trace:    result.Trace,
	}
}

// toFields converts a row to its JSON field map.
func toFields(row any) (map[string]any, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return fields, nil
}

// matchFields returns a description of the first expected field that does
// not match, or "" when all do. Extra fields in actual are ignored.
func matchFields(actual, expected map[string]any) string {
	for _, key := range sortedKeys(expected) {
		got, ok := actual[key]
		if !ok {
			return fmt.Sprintf("field %s missing", key)
		}
		if !valuesEqual(got, expected[key]) {
			return fmt.Sprintf("field %s = %v", key, got)
		}
	}
	return ""
}

// valuesEqual compares a decoded JSON value with a YAML-decoded expectation.
// JSON numbers decode as float64 while YAML integers decode as int.
func valuesEqual(actual, expected any) bool {
	switch exp := expected.(type) {
	case int:
		f, ok := actual.(float64)
		return ok && f == float64(exp)
	case int64:
		f, ok := actual.(float64)
		return ok && f == float64(exp)
	case float64:
		f, ok := actual.(float64)
		return ok && f == exp
	}
	return reflect.DeepEqual(actual, expected)
}

func formatFields(m map[string]any) string {
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertUser:
			err = assertRow(result, a, result.State.Users)
		case AssertClient:
			err = assertRow(result, a, result.State.Clients)
		case AssertClientGroup:
			err = assertRow(result, a, result.State.ClientGroups)
		case AssertSkippedCount:
			err = assertSkippedCount(result, a)
		case AssertPoked:
			err = assertPoked(result, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
