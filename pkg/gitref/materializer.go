package gitref

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/pxtools/px/pkg/cas"
	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// Request is the input to PrepareAtRef: the original (not extracted)
// project location, the ref to pin, and the member path when running
// inside a workspace.
type Request struct {
	OriginalProjectRoot string
	Ref                  string
	MemberRelPath        string // "" for a single-project repo
}

// Prepared bundles everything a caller needs to hand off to the profile
// builder and materializer (C6/C7) for an at-ref run. The synthetic
// project-env owner id (§4.11 step 5) is computed separately via
// EnvOwnerID once the runtime to use has been selected.
type Prepared struct {
	Snapshot            Snapshot
	Manifest            manifest.Manifest
	Lockfile            lockfile.Lockfile
	ProjectRoot         string // the extracted tree's project dir
	OriginalProjectRoot string
}

// PrepareAtRef implements §4.11 steps 1-4: find the repo, extract the tree
// at ref, load the shipped manifest+lockfile from the extracted path, and
// validate the fingerprint. It does not derive the synthetic env owner id;
// EnvOwnerID does that from the *original* project root.
func PrepareAtRef(req Request) (Prepared, error) {
	repo, _, err := FindRepoRoot(req.OriginalProjectRoot)
	if err != nil {
		return Prepared{}, err
	}

	snap, err := Extract(repo, req.Ref)
	if err != nil {
		return Prepared{}, err
	}

	projectDir := snap.Dir
	if req.MemberRelPath != "" {
		projectDir = filepath.Join(snap.Dir, req.MemberRelPath)
	}

	m, err := manifest.Load(projectDir)
	if err != nil {
		snap.Cleanup()
		return Prepared{}, &pxerr.UserError{Reason: pxerr.ReasonPyprojectMissingAtRef, Cause: err}
	}

	lock, err := lockfile.Load(m.LockPath())
	if err != nil {
		snap.Cleanup()
		return Prepared{}, &pxerr.UserError{Reason: pxerr.ReasonInvalidLockAtRef, Cause: err}
	}

	computed := manifest.Snapshot(m).ManifestFingerprint
	if lock.Metadata.ManifestFingerprint != computed {
		snap.Cleanup()
		return Prepared{}, &pxerr.UserError{Reason: pxerr.ReasonInvalidLockAtRef,
			Message: "lockfile shipped at " + req.Ref + " does not match the manifest at that ref"}
	}

	return Prepared{
		Snapshot:            snap,
		Manifest:            m,
		Lockfile:            lock,
		ProjectRoot:         projectDir,
		OriginalProjectRoot: req.OriginalProjectRoot,
	}, nil
}

// EnvOwnerID mirrors (I6): H(project_root, lock_id, runtime_version), using
// the original project root rather than the temp extraction directory so
// that subsequent same-ref runs reuse the profile (§4.11 step 5). Called
// once the runtime to use for the run has been selected by the planner.
func EnvOwnerID(projectRoot, lockID, runtimeVersion string) string {
	h := sha256.New()
	h.Write([]byte(projectRoot))
	h.Write([]byte{0})
	h.Write([]byte(lockID))
	h.Write([]byte{0})
	h.Write([]byte(runtimeVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// Pin adds a repo-snapshot ref so GC cannot reclaim the extracted tree's
// stored object while the at-ref run is active (§4.11 step 6). The caller
// removes the ref (via store.RemoveRef) once the run completes.
func Pin(ctx context.Context, store *cas.Store, ownerID, oid string) error {
	return store.AddRef(ctx, cas.OwnerAtRefRun, ownerID, oid)
}
