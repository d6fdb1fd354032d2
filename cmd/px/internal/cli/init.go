package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/manifest"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Onboard an existing directory into a px-managed project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			m, err := manifest.Onboard(dir)
			if err != nil {
				return fail(flags, err)
			}

			if err := writePyproject(m); err != nil {
				return fail(flags, err)
			}
			return succeed(flags, fmt.Sprintf("initialized %s (%s)", m.Name, filepath.Join(m.Root, manifest.ManifestFile)), nil)
		},
	}
	return cmd
}

// writePyproject renders the subset of pyproject.toml fields px owns
// ([project] name, requires-python and dependencies) and replaces the whole
// file with it; any other table in an existing pyproject.toml is not kept.
func writePyproject(m manifest.Manifest) error {
	var deps string
	for _, d := range m.Dependencies {
		deps += fmt.Sprintf("  %q,\n", d.Spec)
	}
	content := fmt.Sprintf(`[project]
name = %q
requires-python = %q
dependencies = [
%s]
`, m.Name, m.PythonRequirement, deps)
	return os.WriteFile(filepath.Join(m.Root, manifest.ManifestFile), []byte(content), 0o644)
}
