package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/replipush/internal/ir"
)

// GroupReport is the state of one client group.
type GroupReport struct {
	Group   ir.ClientGroup `json:"group"`
	Clients []ir.Client    `json:"clients"`
}

func (r GroupReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "client group %s (owner %s, cvr %d)", r.Group.ID, r.Group.OwnerID, r.Group.CVRVersion)
	if len(r.Clients) == 0 {
		b.WriteString("\n  no clients")
	}
	for _, c := range r.Clients {
		fmt.Fprintf(&b, "\n  %s last_mutation_id=%d", c.ID, c.LastMutationID)
	}
	return b.String()
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <client-group-id>",
		Short: "Show a client group and the sequence position of its clients",
		Args:  cobra.ExactArgs(1),
		Example: `  replipush inspect --db ./app.db g1
  replipush inspect --format json g1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, groupID string, cmd *cobra.Command) error {
	e, err := setup(opts, cmd)
	if err != nil {
		return err
	}
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, e.log)

	ctx := cmd.Context()
	g, found, err := st.ClientGroup(ctx, groupID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read client group", err)
	}
	if !found {
		msg := fmt.Sprintf("client group %q not found", groupID)
		_ = e.formatter.Error(ErrCodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	clients, err := st.ClientsInGroup(ctx, groupID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read clients", err)
	}
	return e.formatter.Success(GroupReport{Group: g, Clients: clients})
}
