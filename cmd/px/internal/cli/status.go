package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
)

// statusReport is the details payload of `px status`'s ExecutionOutcome.
type statusReport struct {
	Project         string `json:"project"`
	HasLock         bool   `json:"has_lock"`
	ManifestDrifted bool   `json:"manifest_drifted"`
	EnvMaterialized bool   `json:"env_materialized"`
	EnvDrifted      bool   `json:"env_drifted"`
	CurrentProfile  string `json:"current_profile_oid,omitempty"`
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var member string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report lock and environment drift for the current project",
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

			report := statusReport{Project: m.Name}

			lock, lockErr := lockfile.Load(m.LockPath())
			report.HasLock = lockErr == nil
			if report.HasLock {
				snap := manifest.Snapshot(m)
				report.ManifestDrifted = snap.ManifestFingerprint != lock.Metadata.ManifestFingerprint
			}

			if st, ok := readProjectState(m.Root); ok {
				report.EnvMaterialized = true
				report.CurrentProfile = st.CurrentEnv.ProfileOID
				report.EnvDrifted = report.HasLock && lock.Metadata.LockID != "" && st.CurrentEnv.ID != lock.Metadata.LockID
			}

			msg := "up to date"
			switch {
			case !report.HasLock:
				msg = "no lockfile; run `px sync`"
			case report.ManifestDrifted:
				msg = "manifest has drifted from the lockfile; run `px sync`"
			case report.EnvDrifted:
				msg = "environment is stale; it will be repaired on next run"
			case !report.EnvMaterialized:
				msg = "locked, environment not yet materialized"
			}
			return succeed(flags, msg, report)
		},
	}

	cmd.Flags().StringVar(&member, "member", "", "workspace member to report on")
	return cmd
}
