package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/lockfile"
)

// currentLockVersion is the lockfile schema version this px writes and
// accepts without migration (lockfile.Lockfile.Version).
const currentLockVersion = 1

// newMigrateCmd only implements its interaction with the core (§6):
// re-rendering an existing lockfile through the current writer so its
// on-disk form matches what this px version would have produced, mirroring
// Function.Migrate()'s "return a migrated copy, caller persists it" shape
// generalized to a single current version rather than a migration chain
// (px.lock has never shipped a breaking schema change yet).
func newMigrateCmd(flags *globalFlags) *cobra.Command {
	var member string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the project's lockfile up to the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return fail(flags, err)
			}
			m, err := loadProject(cwd, member)
			if err != nil {
				return fail(flags, err)
			}

			lock, err := lockfile.Load(m.LockPath())
			if err != nil {
				return fail(flags, err)
			}
			if lock.Version >= currentLockVersion {
				return succeed(flags, "lockfile already at the current version", nil)
			}
			lock.Version = currentLockVersion
			if err := lockfile.Write(m.LockPath(), lock); err != nil {
				return fail(flags, err)
			}
			return succeed(flags, fmt.Sprintf("migrated %s to version %d", m.LockPath(), currentLockVersion), nil)
		},
	}
	cmd.Flags().StringVar(&member, "member", "", "workspace member to migrate")
	return cmd
}
