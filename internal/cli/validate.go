package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                    `json:"valid"`
	Mutations int                     `json:"mutations"`
	Error     *schema.ValidationError `json:"error,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("valid push (%d mutations)", r.Mutations)
	}
	return "invalid push: " + r.Error.Error()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a push request against the schema without applying it",
		Long: `Validate a JSON (or JSONC) push request without touching the database.

Checks the body shape, the field constraints and that every mutation names
a registered mutator. Use "-" to read from stdin.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	body, err := readPushFile(path, func() ([]byte, error) { return io.ReadAll(cmd.InOrStdin()) })
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read push", err)
	}

	validator, err := schema.NewValidator(newRegistry(notify.Nop{}).Names()...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load push schema", err)
	}

	req, err := validator.Decode(body)
	if err != nil {
		var verr *schema.ValidationError
		if !errors.As(err, &verr) {
			verr = &schema.ValidationError{Message: err.Error()}
		}
		if opts.Format == "json" {
			_ = formatter.Error(ErrCodeInvalidPush, verr.Error(), ValidationResult{Error: verr})
		} else {
			_ = formatter.Success(ValidationResult{Error: verr})
		}
		return WrapExitError(ExitFailure, "invalid push", err)
	}

	return formatter.Success(ValidationResult{Valid: true, Mutations: len(req.Mutations)})
}
