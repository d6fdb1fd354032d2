package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/planner"
)

const commandRun = "run"
const commandTest = "test"

// newRunCmd builds both `px run` and `px test`: identical wiring, differing
// only in the planner.Command they carry (the lock pipeline and engine
// decision table treat them the same way, per §4.9).
func newRunCmd(flags *globalFlags, which string) *cobra.Command {
	var strict, sandbox bool
	var atRef, member string

	pc := planner.CommandRun
	short := "Run a file, module, or console script inside the project's environment"
	if which == commandTest {
		pc = planner.CommandTest
		short = "Run the project's test suite inside its environment"
	}

	cmd := &cobra.Command{
		Use:                which + " [target] [-- args...]",
		Short:              short,
		DisableFlagParsing: false,
		Args:               cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cctx, err := newContext(flags)
			if err != nil {
				return fail(flags, err)
			}
			var target string
			if len(args) > 0 {
				target = args[0]
				args = args[1:]
			}

			cwd, err := os.Getwd()
			if err != nil {
				return fail(flags, err)
			}
			m, err := loadProject(cwd, member)
			if err != nil {
				return fail(flags, err)
			}

			req, lock, _ := buildPlanRequest(pc, target, args, m, m.LockPath(), strict, sandbox, atRef, cwd)
			return runExecutionPlan(c.Context(), cctx, flags, m, req, lock)
		},
	}

	cmd.Flags().BoolVar(&strict, "frozen", false, "fail rather than repair drift against the lockfile")
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "force execution inside a packed sandbox image")
	cmd.Flags().StringVar(&atRef, "at", "", "run against a pinned git ref instead of the working tree")
	cmd.Flags().StringVar(&member, "member", "", "workspace member to run in")
	return cmd
}

// newToolCmd implements `px tool` for ad hoc console-script dispatch
// outside the run/test distinction (e.g. `px tool black .`).
func newToolCmd(flags *globalFlags) *cobra.Command {
	var strict, sandbox bool
	var member string

	cmd := &cobra.Command{
		Use:   "tool <name> [args...]",
		Short: "Run an installed console script by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cctx, err := newContext(flags)
			if err != nil {
				return fail(flags, err)
			}
			target, toolArgs := args[0], args[1:]

			cwd, err := os.Getwd()
			if err != nil {
				return fail(flags, err)
			}
			m, err := loadProject(cwd, member)
			if err != nil {
				return fail(flags, err)
			}

			req, lock, _ := buildPlanRequest(planner.CommandTool, target, toolArgs, m, m.LockPath(), strict, sandbox, "", cwd)
			return runExecutionPlan(c.Context(), cctx, flags, m, req, lock)
		},
	}

	cmd.Flags().BoolVar(&strict, "frozen", false, "fail rather than repair drift against the lockfile")
	cmd.Flags().BoolVar(&sandbox, "sandbox", false, "force execution inside a packed sandbox image")
	cmd.Flags().StringVar(&member, "member", "", "workspace member to run in")
	return cmd
}
