// Package schema validates raw push bodies against a CUE definition before
// they are decoded and handed to the engine.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/replipush/internal/ir"
)

//go:embed push.cue
var pushCUE string

// ValidationError is the first violation found in a push body.
type ValidationError struct {
	// Path is the dotted location of the violation, e.g. "mutations.0.id".
	// Empty when the body is not JSON at all.
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks push bodies.
//
// Thread-safety: not safe for concurrent use; the underlying cue.Context is
// shared by every value the validator builds.
type Validator struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the push schema. When names is non-empty, mutation
// names are restricted to exactly that set.
func NewValidator(names ...string) (*Validator, error) {
	src := pushCUE
	if len(names) > 0 {
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = strconv.Quote(n)
		}
		src += "\n#MutationName: " + strings.Join(quoted, " | ") + "\n"
	}

	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("push.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile push schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#PushRequest"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #PushRequest: %w", err)
	}
	return &Validator{ctx: ctx, schema: def}, nil
}

// Validate reports the first schema violation in body as *ValidationError.
func (v *Validator) Validate(body []byte) error {
	expr, err := cuejson.Extract("push.json", body)
	if err != nil {
		return &ValidationError{Message: "invalid JSON: " + firstMessage(err)}
	}
	data := v.ctx.BuildExpr(expr)
	if err := data.Err(); err != nil {
		return toValidationError(err)
	}

	if err := v.schema.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return toValidationError(err)
	}
	return nil
}

// Decode validates body and unmarshals it.
func (v *Validator) Decode(body []byte) (ir.PushRequest, error) {
	if err := v.Validate(body); err != nil {
		return ir.PushRequest{}, err
	}
	var req ir.PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ir.PushRequest{}, &ValidationError{Message: err.Error()}
	}
	return req, nil
}

func toValidationError(err error) *ValidationError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	path := first.Path()
	if len(path) > 0 && path[0] == "#PushRequest" {
		path = path[1:]
	}
	return &ValidationError{
		Path:    strings.Join(path, "."),
		Message: fmt.Sprintf(format, args...),
	}
}

func firstMessage(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	format, args := errs[0].Msg()
	return fmt.Sprintf(format, args...)
}
