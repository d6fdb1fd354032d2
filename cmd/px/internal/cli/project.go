package cli

import (
	"os"
	"path/filepath"

	"github.com/pxtools/px/pkg/manifest"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// findProjectRoot walks up from cwd looking for pyproject.toml, mirroring
// how the teacher's function commands resolve an implicit root from the
// working directory rather than requiring an explicit --path everywhere.
func findProjectRoot(cwd string) (string, error) {
	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, manifest.ManifestFile)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", pxerr.NewUserError(pxerr.ReasonMissingProject, "Run `px init` to create a pyproject.toml here.")
		}
		dir = parent
	}
}

// loadProject locates and loads the manifest for the current working
// directory, resolving a workspace member manifest when memberName is set.
func loadProject(cwd, memberName string) (manifest.Manifest, error) {
	root, err := findProjectRoot(cwd)
	if err != nil {
		return manifest.Manifest{}, err
	}
	m, err := manifest.Load(root)
	if err != nil {
		return manifest.Manifest{}, err
	}
	if memberName == "" {
		return m, nil
	}
	if !m.IsWorkspace() {
		return manifest.Manifest{}, pxerr.NewUserError(pxerr.ReasonMissingWorkspaceMetadata, "")
	}
	return m.ResolveMember(memberName)
}
