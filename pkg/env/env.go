// Package env implements the Environment Materializer (C7): realizing a
// profile as an on-disk, virtualenv-shaped directory suitable for direct
// execution.
//
// Grounded on pkg/oci.Builder's layered, idempotent assembly stages and on
// pkg/functions' atomic-write idiom (temp path, then rename into place) for
// the final `.partial` → canonical swap.
package env

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pxtools/px/pkg/profile"
	"github.com/pxtools/px/pkg/runtimeregistry"
)

// Request is the input to Materialize: a profile bound to a runtime, plus
// project identity needed for the project-name-scoped editable stub.
type Request struct {
	EnvRoot         string
	Profile         profile.Manifest
	ProfileOID      string
	Runtime         runtimeregistry.Descriptor
	ProjectName     string
	ProjectVersion  string
	ProjectRoot     string
	EntryPoints     map[string][]EntryPoint // pkg-build oid -> declared entry points
	ExtrasForStub   []string
	NoEnsurePip     bool
}

// EntryPoint is one console/gui script declared by an installed package.
type EntryPoint struct {
	Name   string // script name
	Module string
	Attr   string
	GUI    bool
}

// Materializer assembles env directories.
type Materializer struct {
	storeSitePackages func(pkgBuildOID string) (string, error)
}

func New(storeSitePackages func(pkgBuildOID string) (string, error)) *Materializer {
	return &Materializer{storeSitePackages: storeSitePackages}
}

// siteSubdir returns the versioned site-packages relative path, e.g.
// lib/python3.12/site-packages, mirroring a standard venv layout.
func siteSubdir(version string) string {
	major, minor := splitMajorMinor(version)
	return filepath.Join("lib", fmt.Sprintf("python%d.%d", major, minor), "site-packages")
}

func splitMajorMinor(version string) (int, int) {
	var maj, min int
	fmt.Sscanf(version, "%d.%d", &maj, &min)
	return maj, min
}

// Materialize runs the full, idempotent assembly of §4.7 into req.EnvRoot
// directly (no partial/swap — callers doing a refresh use Refresh instead,
// which wraps this in the atomic-swap idiom).
func (m *Materializer) Materialize(ctx context.Context, req Request) error {
	binDir := filepath.Join(req.EnvRoot, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	if err := linkRuntimePython(req.Runtime, binDir); err != nil {
		return fmt.Errorf("step 1 (runtime link): %w", err)
	}
	if err := writePyvenvCfg(req.EnvRoot, req.Runtime); err != nil {
		return fmt.Errorf("step 2 (pyvenv.cfg): %w", err)
	}

	siteDir := filepath.Join(req.EnvRoot, siteSubdir(req.Runtime.Version))
	if err := os.MkdirAll(siteDir, 0o755); err != nil {
		return err
	}
	sitePackagesPaths, err := m.sitePackagesPaths(req.Profile)
	if err != nil {
		return fmt.Errorf("step 3 (px.pth): %w", err)
	}
	if err := writePthFile(siteDir, sitePackagesPaths); err != nil {
		return fmt.Errorf("step 3 (px.pth): %w", err)
	}

	if err := writeSitecustomize(siteDir); err != nil {
		return fmt.Errorf("step 4 (sitecustomize.py): %w", err)
	}

	if err := generateConsoleScripts(binDir, req.Runtime, req.EntryPoints); err != nil {
		return fmt.Errorf("step 5 (console scripts): %w", err)
	}

	conflict, err := profile.HasConflictingInstall(siteDir, fmt.Sprintf("%s-%s", req.ProjectName, req.ProjectVersion))
	if err != nil {
		return err
	}
	if !conflict {
		if err := writeEditableStub(siteDir, req); err != nil {
			return fmt.Errorf("step 6 (editable stub): %w", err)
		}
	}

	if !req.NoEnsurePip && os.Getenv("PX_NO_ENSUREPIP") == "" {
		if err := ensurePip(ctx, filepath.Join(binDir, "python")); err != nil {
			return fmt.Errorf("step 7 (ensurepip): %w", err)
		}
	}

	// step 8 (project state) is written by the caller once this env root is
	// the canonical one — see WriteState and Refresh, so that a crash mid-
	// assembly never leaves state.json pointing at a half-built env.
	return nil
}

// WriteState persists the project state file described in §4.7 step 8,
// pointing at req.EnvRoot as the current canonical env. Callers invoke this
// only once req.EnvRoot is the live, swapped-in environment.
func (m *Materializer) WriteState(req Request) error {
	return writeProjectState(req)
}

func (m *Materializer) sitePackagesPaths(p profile.Manifest) ([]string, error) {
	order := p.SysPathOrder
	if len(order) == 0 {
		for _, pkg := range p.Packages {
			order = append(order, pkg.PkgBuildOID)
		}
	}
	paths := make([]string, 0, len(order))
	for _, oid := range order {
		dir, err := m.storeSitePackages(oid)
		if err != nil {
			return nil, err
		}
		paths = append(paths, dir)
	}
	return paths, nil
}

func linkRuntimePython(rt runtimeregistry.Descriptor, binDir string) error {
	target := filepath.Join(binDir, "python")
	if err := symlinkOrCopy(rt.Path, target); err != nil {
		return err
	}
	major, minor := splitMajorMinor(rt.Version)
	for _, alias := range []string{
		fmt.Sprintf("python%d", major),
		fmt.Sprintf("python%d.%d", major, minor),
	} {
		aliasPath := filepath.Join(binDir, alias)
		os.Remove(aliasPath)
		if err := os.Symlink("python", aliasPath); err != nil && runtime.GOOS != "windows" {
			return err
		}
	}
	return nil
}

func symlinkOrCopy(src, dst string) error {
	os.Remove(dst)
	if runtime.GOOS != "windows" {
		return os.Symlink(src, dst)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func writePyvenvCfg(envRoot string, rt runtimeregistry.Descriptor) error {
	home := filepath.Dir(filepath.Dir(rt.Path)) // .../bin/python -> runtime root
	content := fmt.Sprintf("home = %s\nversion = %s\ninclude-system-site-packages = false\npx = true\n", home, rt.Version)
	return os.WriteFile(filepath.Join(envRoot, "pyvenv.cfg"), []byte(content), 0o644)
}

func writePthFile(siteDir string, sitePackagesPaths []string) error {
	var content string
	for _, p := range sitePackagesPaths {
		content += p + "\n"
	}
	return os.WriteFile(filepath.Join(siteDir, "px.pth"), []byte(content), 0o644)
}

const sitecustomizeTemplate = `import os
import sys

_allowed = os.environ.get("PX_ALLOWED_PATHS", "")
if _allowed:
    _allowed_set = set(_allowed.split(os.pathsep))
    sys.path[:] = [p for p in sys.path if p in _allowed_set or not os.path.isabs(p)]

os.environ.setdefault("PYTHONPYCACHEPREFIX", os.path.join(os.path.dirname(__file__), ".px-pycache"))
`

func writeSitecustomize(siteDir string) error {
	return os.WriteFile(filepath.Join(siteDir, "sitecustomize.py"), []byte(sitecustomizeTemplate), 0o644)
}

func writeProjectState(req Request) error {
	statePath := filepath.Join(req.ProjectRoot, ".px", "state.json")
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		return err
	}
	state := map[string]any{
		"current_env": map[string]any{
			"id":            envOwnerID(req),
			"site_packages": filepath.Join(req.EnvRoot, siteSubdir(req.Runtime.Version)),
			"env_path":      req.EnvRoot,
			"profile_oid":   req.ProfileOID,
			"python": map[string]any{
				"path":    filepath.Join(req.EnvRoot, "bin", "python"),
				"version": req.Runtime.Version,
			},
			"platform": req.Runtime.PlatformTag,
		},
		"runtime": req.Runtime,
	}
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, statePath)
}

func envOwnerID(req Request) string {
	return req.ProjectRoot
}
