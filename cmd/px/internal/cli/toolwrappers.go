package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/planner"
)

// newFmtCmd, newLintCmd, newBuildCmd, and newPublishCmd only implement
// their interaction with the core (§6): resolving and dispatching to a
// console script already installed in the project's environment, by the
// same planner.CommandTool path `px tool` uses. They do not implement
// formatter/linter/build-backend-specific logic of their own.

func newFmtCmd(flags *globalFlags) *cobra.Command {
	return toolWrapperCmd(flags, "fmt", "ruff", []string{"format", "."}, "Format the project with its configured formatter")
}

func newLintCmd(flags *globalFlags) *cobra.Command {
	return toolWrapperCmd(flags, "lint", "ruff", []string{"check", "."}, "Lint the project with its configured linter")
}

func newBuildCmd(flags *globalFlags) *cobra.Command {
	return toolWrapperCmd(flags, "build", "build", nil, "Build the project's distributable artifacts")
}

func newPublishCmd(flags *globalFlags) *cobra.Command {
	return toolWrapperCmd(flags, "publish", "twine", []string{"upload", "dist/*"}, "Publish built artifacts to the configured index")
}

func toolWrapperCmd(flags *globalFlags, use, defaultTool string, defaultArgs []string, short string) *cobra.Command {
	var member string
	return &cobra.Command{
		Use:   use + " [args...]",
		Short: short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cctx, err := newContext(flags)
			if err != nil {
				return fail(flags, err)
			}
			if len(args) == 0 {
				args = defaultArgs
			}

			cwd, err := os.Getwd()
			if err != nil {
				return fail(flags, err)
			}
			m, err := loadProject(cwd, member)
			if err != nil {
				return fail(flags, err)
			}

			req, lock, _ := buildPlanRequest(planner.CommandTool, defaultTool, args, m, m.LockPath(), false, false, "", cwd)
			return runExecutionPlan(c.Context(), cctx, flags, m, req, lock)
		},
	}
}
