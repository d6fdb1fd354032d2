// Package casnative implements the CAS-Native Executor (C8): synthesizing
// a process environment directly from store paths, without materializing
// an on-disk env directory.
//
// Grounded on pkg/functions.Client's pattern of assembling a minimal
// execution context from injected collaborators rather than a full runtime
// install, scaled down further: casnative builds only a "site" stub, not a
// whole venv tree.
package casnative

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pxtools/px/pkg/profile"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
	"github.com/pxtools/px/pkg/runtimeregistry"
)

// SiteRequest describes the profile to synthesize a site for.
type SiteRequest struct {
	CacheDir          string // e.g. PX_CACHE_PATH/sites
	Profile           profile.Manifest
	ProfileOID        string
	Runtime           runtimeregistry.Descriptor
	SitePackagesPaths func(pkgBuildOID string) (string, error)
}

// Site is the minimal per-profile directory described in §4.8.
type Site struct {
	Dir               string
	PythonPath        string
	SysPathEntries    []string
	AllowedPaths      []string
	PycachePrefix     string
}

// EnsureSite builds (or reuses, if already present) the minimal site dir
// for a profile: bin/python symlink, px.pth, sitecustomize.py.
func EnsureSite(req SiteRequest) (Site, error) {
	dir := filepath.Join(req.CacheDir, req.ProfileOID)
	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return Site{}, &pxerr.UserError{Reason: pxerr.ReasonCASNativeSiteSetupFailed, Cause: err}
	}

	pythonLink := filepath.Join(binDir, "python")
	if _, err := os.Lstat(pythonLink); err != nil {
		os.Remove(pythonLink)
		if err := os.Symlink(req.Runtime.Path, pythonLink); err != nil {
			return Site{}, &pxerr.UserError{Reason: pxerr.ReasonCASNativeSiteSetupFailed, Cause: err}
		}
	}

	order := req.Profile.SysPathOrder
	if len(order) == 0 {
		for _, pkg := range req.Profile.Packages {
			order = append(order, pkg.PkgBuildOID)
		}
	}
	var sitePackages []string
	for _, oid := range order {
		p, err := req.SitePackagesPaths(oid)
		if err != nil {
			return Site{}, &pxerr.UserError{Reason: pxerr.ReasonMissingArtifacts, Cause: err, Items: []string{oid}}
		}
		sitePackages = append(sitePackages, p)
	}

	pthContent := strings.Join(sitePackages, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "px.pth"), []byte(pthContent), 0o644); err != nil {
		return Site{}, &pxerr.UserError{Reason: pxerr.ReasonCASNativeSiteSetupFailed, Cause: err}
	}
	if err := os.WriteFile(filepath.Join(binDir, "px.pth"), []byte(pthContent), 0o644); err != nil {
		return Site{}, &pxerr.UserError{Reason: pxerr.ReasonCASNativeSiteSetupFailed, Cause: err}
	}

	sitecustomize := "import sys\nsys.path[:0] = " + pyStringList(sitePackages) + "\n"
	if err := os.WriteFile(filepath.Join(dir, "sitecustomize.py"), []byte(sitecustomize), 0o644); err != nil {
		return Site{}, &pxerr.UserError{Reason: pxerr.ReasonCASNativeSiteSetupFailed, Cause: err}
	}

	pycache := filepath.Join(req.CacheDir, "pyc", req.ProfileOID)
	if err := os.MkdirAll(pycache, 0o755); err != nil {
		return Site{}, &pxerr.UserError{Reason: pxerr.ReasonCASNativeSiteSetupFailed, Cause: err}
	}

	allowed := append([]string(nil), sitePackages...)
	allowed = append(allowed, dir)

	return Site{
		Dir:            dir,
		PythonPath:     pythonLink,
		SysPathEntries: sitePackages,
		AllowedPaths:   allowed,
		PycachePrefix:  pycache,
	}, nil
}

// Env returns the environment variables the launched process needs,
// exactly as enumerated in §4.8.
func (s Site) Env() []string {
	return []string{
		"PYTHONPATH=" + strings.Join(s.SysPathEntries, string(os.PathListSeparator)),
		"PX_ALLOWED_PATHS=" + strings.Join(s.AllowedPaths, string(os.PathListSeparator)),
		"PYTHONPYCACHEPREFIX=" + s.PycachePrefix,
		"VIRTUAL_ENV=" + s.Dir,
		"PYTHONHOME=",
		"PATH=" + filepath.Join(s.Dir, "bin") + string(os.PathListSeparator) + os.Getenv("PATH"),
	}
}

func pyStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
