package gitref_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/pxtools/px/pkg/gitref"
	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
)

func commitProjectFiles(t *testing.T, dir string, pyproject, lock string) *git.Repository {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(pyproject), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "px.lock"), []byte(lock), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("pyproject.toml"); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("px.lock"); err != nil {
		t.Fatal(err)
	}
	_, err = wt.Commit("pin", &git.CommitOptions{
		Author: &object.Signature{Name: "px-test", Email: "test@example.invalid", When: time.Unix(0, 0)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

const pyprojectSrc = "[project]\nname = \"demo\"\nrequires-python = \">=3.11\"\ndependencies = [\"requests>=2.31\"]\n"

func matchingLockBytes(t *testing.T) string {
	t.Helper()
	m, err := manifest.Parse(".", []byte(pyprojectSrc))
	if err != nil {
		t.Fatal(err)
	}
	snap := manifest.Snapshot(m)
	lock := lockfile.Lockfile{
		Version: 1,
		Metadata: lockfile.Metadata{
			PxVersion:           "0.1.0",
			Mode:                lockfile.ModeP0Pinned,
			ManifestFingerprint: snap.ManifestFingerprint,
			LockID:              lockfile.ComputeLockID(snap.ManifestFingerprint, nil),
		},
		Project: lockfile.Project{Name: "demo"},
		Python:  lockfile.Python{Requirement: ">=3.11"},
	}
	b, err := lockfile.Render(lock)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestPrepareAtRefValidatesFingerprintMatch(t *testing.T) {
	dir := t.TempDir()
	commitProjectFiles(t, dir, pyprojectSrc, matchingLockBytes(t))

	prepared, err := gitref.PrepareAtRef(gitref.Request{OriginalProjectRoot: dir, Ref: "HEAD"})
	if err != nil {
		t.Fatal(err)
	}
	defer prepared.Snapshot.Cleanup()

	if prepared.Manifest.Name != "demo" {
		t.Fatalf("unexpected manifest: %+v", prepared.Manifest)
	}
	if prepared.Lockfile.Metadata.LockID == "" {
		t.Fatal("expected a non-empty lock id")
	}
}

func TestPrepareAtRefRejectsDriftedLock(t *testing.T) {
	dir := t.TempDir()
	staleLock := matchingLockBytes(t)
	driftedPyproject := "[project]\nname = \"demo\"\nrequires-python = \">=3.12\"\ndependencies = [\"requests>=2.31\", \"click\"]\n"
	commitProjectFiles(t, dir, driftedPyproject, staleLock)

	_, err := gitref.PrepareAtRef(gitref.Request{OriginalProjectRoot: dir, Ref: "HEAD"})
	if err == nil {
		t.Fatal("expected fingerprint mismatch to be rejected")
	}
}

func TestEnvOwnerIDStableForSameInputs(t *testing.T) {
	a := gitref.EnvOwnerID("/proj", "lock-1", "3.12.1")
	b := gitref.EnvOwnerID("/proj", "lock-1", "3.12.1")
	if a != b {
		t.Fatal("expected deterministic owner id")
	}
	c := gitref.EnvOwnerID("/proj", "lock-2", "3.12.1")
	if a == c {
		t.Fatal("expected owner id to change with lock id")
	}
}
