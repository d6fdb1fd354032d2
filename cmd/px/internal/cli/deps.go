package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/manifest"
)

// newAddCmd, newRemoveCmd, and newUpdateCmd only implement their
// interaction with the core: editing the manifest's dependency list and
// re-running the lock pipeline. Dependency-constraint resolution logic
// (version picking, extras normalization) lives in the resolver gateway,
// invoked here the same way `px sync` invokes it.

func newAddCmd(flags *globalFlags) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "add <requirement>...",
		Short: "Add one or more dependencies and re-lock",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return mutateDepsAndSync(c, flags, func(m *manifest.Manifest) {
				for _, spec := range args {
					m.Dependencies = append(m.Dependencies, manifest.Dependency{Spec: spec, Group: group})
				}
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "optional dependency group")
	return cmd
}

func newRemoveCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name>...",
		Short: "Remove one or more dependencies and re-lock",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			remove := map[string]bool{}
			for _, n := range args {
				remove[n] = true
			}
			return mutateDepsAndSync(c, flags, func(m *manifest.Manifest) {
				kept := m.Dependencies[:0]
				for _, d := range m.Dependencies {
					if !remove[dependencyName(d.Spec)] {
						kept = append(kept, d)
					}
				}
				m.Dependencies = kept
			})
		},
	}
	return cmd
}

func newUpdateCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [name...]",
		Short: "Re-resolve dependencies against their existing constraints",
		Args:  cobra.ArbitraryArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return mutateDepsAndSync(c, flags, func(*manifest.Manifest) {})
		},
	}
	return cmd
}

// dependencyName extracts the bare package name from a PEP 508 requirement
// string, stopping at the first version/extras/marker delimiter.
func dependencyName(spec string) string {
	for i, r := range spec {
		switch r {
		case '=', '<', '>', '!', '~', '[', ';', ' ':
			return spec[:i]
		}
	}
	return spec
}

func mutateDepsAndSync(c *cobra.Command, flags *globalFlags, mutate func(*manifest.Manifest)) error {
	cctx, err := newContext(flags)
	if err != nil {
		return fail(flags, err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fail(flags, err)
	}
	m, err := loadProject(cwd, "")
	if err != nil {
		return fail(flags, err)
	}

	mutate(&m)
	if err := writePyproject(m); err != nil {
		return fail(flags, err)
	}

	if err := syncProject(c.Context(), cctx, m); err != nil {
		return fail(flags, err)
	}
	return succeed(flags, "updated "+manifest.ManifestFile+" and re-locked", nil)
}
