// Package cli implements the replipush command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/replipush/internal/config"
	"github.com/roach88/replipush/internal/dispatch"
	"github.com/roach88/replipush/internal/mutators"
	"github.com/roach88/replipush/internal/notify"
	"github.com/roach88/replipush/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	viper *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the replipush CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: config.NewViper()}

	cmd := &cobra.Command{
		Use:   "replipush",
		Short: "Apply client mutation batches to authoritative state",
		Long: `replipush applies batches of client mutations to a SQLite database,
once each and in per-client order, the way a local-first sync server
handles push requests.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logs)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	config.SetupFlags(cmd)

	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewSkippedCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	config.LoadEnvFiles(".")
	cmd := NewRootCommand()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return GetExitCode(err)
}

// env is what every command needs after flags are parsed.
type env struct {
	cfg       *config.Config
	log       *slog.Logger
	formatter *OutputFormatter
}

func setup(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(opts.viper, cmd)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return &env{
		cfg:       cfg,
		log:       newLogger(cmd.ErrOrStderr(), level),
		formatter: &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},
	}, nil
}

// newLogger writes text logs to w. Logs never go to stdout so JSON output
// stays parseable.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (e *env) openStore() (*store.Store, error) {
	opts := append(e.cfg.StoreOptions(),
		store.WithSchema(mutators.Schema),
		store.WithLogger(e.log),
	)
	st, err := store.Open(e.cfg.DBPath, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newRegistry wires the user-administration mutators.
func newRegistry(p notify.Poker) *dispatch.Registry {
	r := dispatch.NewRegistry()
	mutators.Register(r, p)
	return r
}

func closeStore(st *store.Store, log *slog.Logger) {
	if err := st.Close(); err != nil {
		log.Error("error closing database", "error", err)
	}
}
