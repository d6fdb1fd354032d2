package lockfile

import (
	"os"

	"github.com/pxtools/px/pkg/manifest"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// DriftReport describes what CheckDrift found.
type DriftReport struct {
	ManifestDrifted     bool
	IncompatibleArtifacts []string // dependency names whose wheel tag is absent from runtimeTags
}

// IsDrifted reports whether the lock should be considered stale.
func (r DriftReport) IsDrifted() bool {
	return r.ManifestDrifted || len(r.IncompatibleArtifacts) > 0
}

// CheckDrift compares a loaded lockfile against the current manifest
// snapshot and the active runtime's wheel tag set (§4.5).
func CheckDrift(l Lockfile, snapshot manifest.ProjectSnapshot, runtimeTags []string) DriftReport {
	report := DriftReport{
		ManifestDrifted: l.Metadata.ManifestFingerprint != snapshot.ManifestFingerprint,
	}

	tagSet := make(map[string]struct{}, len(runtimeTags))
	for _, t := range runtimeTags {
		tagSet[t] = struct{}{}
	}
	for _, d := range l.Dependencies {
		if d.Artifact == nil {
			continue
		}
		tag := d.Artifact.PythonTag + "-" + d.Artifact.ABITag + "-" + d.Artifact.PlatformTag
		if _, ok := tagSet[tag]; !ok {
			report.IncompatibleArtifacts = append(report.IncompatibleArtifacts, d.Name)
		}
	}
	return report
}

// DriftError renders a DriftReport as the stable user_error surfaced by the
// CLI layer.
func DriftError(report DriftReport) *pxerr.UserError {
	items := append([]string(nil), report.IncompatibleArtifacts...)
	return pxerr.NewUserError(pxerr.ReasonLockDrift,
		"Run `px sync` to re-resolve and refresh the lockfile.", items...)
}

// HealCachedPaths implements I8: for every dependency whose artifact's
// cached_path is missing on disk but whose sha256 matches an object already
// present under the store's wheel layout, the path is rewritten in place.
// lock_id is untouched because cached_path never participates in identity.
func HealCachedPaths(l *Lockfile, canonicalPathForSHA func(sha256 string) (string, bool)) (repaired []string) {
	for i := range l.Dependencies {
		d := &l.Dependencies[i]
		if d.Artifact == nil {
			continue
		}
		if pathExists(d.Artifact.CachedPath) {
			continue
		}
		canonical, ok := canonicalPathForSHA(d.Artifact.SHA256)
		if !ok {
			continue
		}
		d.Artifact.CachedPath = canonical
		repaired = append(repaired, d.Name)
	}
	return repaired
}

func pathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
