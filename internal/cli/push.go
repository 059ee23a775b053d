package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replipush/internal/engine"
	"github.com/roach88/replipush/internal/ir"
	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/schema"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	Actor   string
	Tenant  string
	Metrics bool
}

// PushSummary is the result of a push command.
type PushSummary struct {
	PushID        string            `json:"push_id"`
	ClientGroupID string            `json:"client_group_id"`
	Applied       int               `json:"applied"`
	Skipped       int               `json:"skipped"`
	Replayed      int               `json:"replayed"`
	Failed        int               `json:"failed"`
	Mutations     []MutationSummary `json:"mutations"`
}

// MutationSummary is one line of a PushSummary.
type MutationSummary struct {
	ClientID   string `json:"client_id"`
	MutationID int64  `json:"id"`
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

func (s PushSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "push %s to %s: %d applied, %d skipped, %d replayed, %d failed",
		s.PushID, s.ClientGroupID, s.Applied, s.Skipped, s.Replayed, s.Failed)
	for _, m := range s.Mutations {
		fmt.Fprintf(&b, "\n  %s #%d %s: %s", m.ClientID, m.MutationID, m.Name, m.Outcome)
		if m.Error != "" {
			fmt.Fprintf(&b, " (%s)", m.Error)
		}
	}
	return b.String()
}

func summarize(groupID string, res engine.Result) PushSummary {
	s := PushSummary{
		PushID:        res.PushID,
		ClientGroupID: groupID,
		Applied:       res.Count(engine.OutcomeApplied),
		Skipped:       res.Count(engine.OutcomeSkipped),
		Replayed:      res.Count(engine.OutcomeReplayed),
		Failed:        res.Failed(),
		Mutations:     []MutationSummary{},
	}
	for _, m := range res.Mutations {
		ms := MutationSummary{ClientID: m.ClientID, MutationID: m.MutationID, Name: m.Name}
		if m.Err != nil {
			ms.Outcome = "failed"
			ms.Error = m.Err.Error()
		} else {
			ms.Outcome = m.Outcome.String()
		}
		s.Mutations = append(s.Mutations, ms)
	}
	return s
}

// NewPushCommand creates the push command.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Apply a push request file",
		Long: `Apply a JSON (or JSONC) push request to the database as an actor.

The body is validated against the push schema first. Mutations are applied
in order; each is committed on its own. Use "-" to read from stdin.

Example:
  replipush push --db ./app.db --actor u1 ./push.json
  replipush push --actor u1 --tenant t1 --batch-policy continue - < push.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "id of the authenticated user (required)")
	cmd.Flags().StringVar(&opts.Tenant, "tenant", "", "tenant of the actor")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write Prometheus metrics to stderr afterwards")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func runPush(opts *PushOptions, path string, cmd *cobra.Command) error {
	e, err := setup(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	body, err := readPushFile(path, func() ([]byte, error) { return io.ReadAll(cmd.InOrStdin()) })
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read push", err)
	}

	poker, err := e.newPoker()
	if err != nil {
		return err
	}
	if c, ok := poker.(io.Closer); ok {
		defer c.Close()
	}

	registry := newRegistry(poker)
	validator, err := schema.NewValidator(registry.Names()...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load push schema", err)
	}
	req, err := validator.Decode(body)
	if err != nil {
		_ = e.formatter.Error(ErrCodeInvalidPush, err.Error(), err)
		return WrapExitError(ExitFailure, "invalid push", err)
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, e.log)

	pusher := engine.New(st, registry,
		engine.WithBatchPolicy(e.cfg.BatchPolicy),
		engine.WithLogger(e.log),
		engine.WithPoker(poker),
	)

	actor := ir.Actor{ID: opts.Actor, TenantID: opts.Tenant}
	res, pushErr := pusher.Push(cmd.Context(), actor, req)
	if opts.Metrics {
		pusher.WriteMetrics(cmd.ErrOrStderr())
	}

	summary := summarize(req.ClientGroupID, res)
	if pushErr != nil {
		code := ErrCodePushFailed
		if c := engine.CodeOf(pushErr); c != "" {
			code = string(c)
		} else if errors.Is(pushErr, engine.ErrVersionNotSupported) {
			code = "VERSION_NOT_SUPPORTED"
		}
		_ = e.formatter.Error(code, pushErr.Error(), summary)
		return WrapExitError(ExitFailure, "push failed", pushErr)
	}
	return e.formatter.Success(summary)
}

// newPoker publishes to RabbitMQ when amqp-url is set and logs pokes otherwise.
func (e *env) newPoker() (notify.Poker, error) {
	if e.cfg.AMQPURL == "" {
		return notify.LogPoker{Logger: e.log}, nil
	}
	p, err := notify.DialAMQP(e.cfg.AMQPURL, e.cfg.AMQPExchange, e.log)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to connect to broker", err)
	}
	return p, nil
}
