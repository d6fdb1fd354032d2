// Package cli assembles px's Cobra command tree. Structure mirrors
// cmd/root.go in the teacher repo: a bare root with persistent global
// flags and no action of its own, one file per subcommand, and errors
// silenced at the Cobra layer so the outcome renderer has full control
// over exit codes (spec.md §6).
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/cmdctx"
	"github.com/pxtools/px/pkg/pxconfig"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// globalFlags is populated by the root command's persistent flags and read
// by every subcommand to build a cmdctx.Context.
type globalFlags struct {
	quiet   bool
	verbose int
	trace   bool
	json    bool
	noColor bool
	config  string
}

// NewRootCmd builds the command tree. It has no action of its own: running
// the binary with no arguments prints help.
func NewRootCmd() (*cobra.Command, error) {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "px",
		Short:         "A deterministic project and environment manager for Python",
		SilenceErrors: true,
		SilenceUsage:  true,
		Long: `px

Resolve, lock, and execute Python projects against a content-addressed
store of wheels, interpreters, and per-package build directories.`,
	}

	root.PersistentFlags().BoolVar(&flags.quiet, "quiet", false, "suppress non-essential output")
	root.PersistentFlags().CountVarP(&flags.verbose, "verbose", "v", "increase verbosity (repeatable, max 2)")
	root.PersistentFlags().BoolVar(&flags.trace, "trace", false, "emit trace-level diagnostics")
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "emit the structured outcome envelope as JSON")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable ANSI color in human output")
	root.PersistentFlags().StringVar(&flags.config, "config", "", "path to an alternate global config file")

	root.AddCommand(
		newRunCmd(flags, commandRun),
		newRunCmd(flags, commandTest),
		newToolCmd(flags),
		newFmtCmd(flags),
		newLintCmd(flags),
		newBuildCmd(flags),
		newPublishCmd(flags),
		newSyncCmd(flags),
		newAddCmd(flags),
		newRemoveCmd(flags),
		newUpdateCmd(flags),
		newStatusCmd(flags),
		newInitCmd(flags),
		newMigrateCmd(flags),
	)

	return root, nil
}

// Execute runs root to completion, rendering any returned *outcomeError as
// the stable ExecutionOutcome envelope and returning the process exit code.
func Execute(ctx context.Context, root *cobra.Command) int {
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if ctx.Err() != nil {
		return 130
	}
	if oe, ok := err.(*outcomeError); ok {
		renderOutcome(os.Stdout, oe.json, oe.outcome)
		return oe.outcome.Status.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return pxerr.StatusFailure.ExitCode()
}

// outcomeError carries a fully-formed ExecutionOutcome out of a command's
// RunE so Execute can render it uniformly.
type outcomeError struct {
	outcome pxerr.Outcome
	json    bool
}

func (e *outcomeError) Error() string { return e.outcome.Message }

func newContext(flags *globalFlags) (*cmdctx.Context, error) {
	cfg, err := loadConfig(flags.config)
	if err != nil {
		return nil, err
	}
	return cmdctx.New(cfg,
		cmdctx.WithQuiet(flags.quiet),
		cmdctx.WithVerbose(flags.verbose),
		cmdctx.WithTrace(flags.trace),
		cmdctx.WithJSON(flags.json),
		cmdctx.WithNoColor(flags.noColor),
	), nil
}

func loadConfig(path string) (pxconfig.Config, error) {
	if path == "" {
		return pxconfig.NewDefault()
	}
	return pxconfig.Load(path)
}

// fail wraps a pxerr.UserError or any error into the outcomeError Execute
// knows how to render, defaulting to a generic failure status for errors
// that are not already typed.
func fail(flags *globalFlags, err error) error {
	if ue, ok := err.(*pxerr.UserError); ok {
		return &outcomeError{outcome: ue.Outcome(), json: flags.json}
	}
	return &outcomeError{outcome: pxerr.Outcome{Status: pxerr.StatusFailure, Message: err.Error()}, json: flags.json}
}

func succeed(flags *globalFlags, message string, details any) error {
	return &outcomeError{outcome: pxerr.Outcome{Status: pxerr.StatusOK, Message: message, Details: details}, json: flags.json}
}
