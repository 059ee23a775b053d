package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/replipush/internal/store"
)

// SkippedEntry is one skipped mutation in command output.
type SkippedEntry struct {
	ClientGroupID string    `json:"client_group_id"`
	MutationID    int64     `json:"id"`
	Name          string    `json:"name"`
	Digest        string    `json:"digest"`
	Args          string    `json:"args"`
	Reason        string    `json:"reason"`
	SkippedAt     time.Time `json:"skipped_at"`
}

// SkippedReport lists the skipped mutations of one client.
type SkippedReport struct {
	ClientID  string         `json:"client_id"`
	Mutations []SkippedEntry `json:"mutations"`
}

func (r SkippedReport) String() string {
	if len(r.Mutations) == 0 {
		return fmt.Sprintf("no skipped mutations for client %s", r.ClientID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d skipped mutation(s) for client %s", len(r.Mutations), r.ClientID)
	for _, m := range r.Mutations {
		fmt.Fprintf(&b, "\n  #%d %s %s: %s", m.MutationID, m.Name, m.Args, m.Reason)
	}
	return b.String()
}

func newSkippedReport(clientID string, recs []store.SkippedMutation) SkippedReport {
	r := SkippedReport{ClientID: clientID, Mutations: make([]SkippedEntry, 0, len(recs))}
	for _, rec := range recs {
		r.Mutations = append(r.Mutations, SkippedEntry{
			ClientGroupID: rec.ClientGroupID,
			MutationID:    rec.MutationID,
			Name:          rec.Name,
			Digest:        rec.Digest,
			Args:          rec.Args,
			Reason:        rec.Reason,
			SkippedAt:     rec.SkippedAt,
		})
	}
	return r
}

// NewSkippedCommand creates the skipped command.
func NewSkippedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skipped <client-id>",
		Short: "List mutations of a client that were skipped in error mode",
		Long: `List the poison mutations of one client. Their business effect was
discarded; the client's sequence advanced past them so later mutations
could apply.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSkipped(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSkipped(opts *RootOptions, clientID string, cmd *cobra.Command) error {
	e, err := setup(opts, cmd)
	if err != nil {
		return err
	}
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer closeStore(st, e.log)

	recs, err := st.SkippedMutations(cmd.Context(), clientID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read skipped mutations", err)
	}
	return e.formatter.Success(newSkippedReport(clientID, recs))
}
