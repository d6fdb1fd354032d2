package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

func withTempProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	content := "[project]\nname = \"demo\"\nrequires-python = \">=3.11\"\ndependencies = []\n"
	if err := os.WriteFile(filepath.Join(root, manifest.ManifestFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldwd) })
	return root
}

func runStatus(t *testing.T, flags *globalFlags) *pxerr.Outcome {
	t.Helper()
	cmd := newStatusCmd(flags)
	err := cmd.RunE(cmd, nil)
	oe, ok := err.(*outcomeError)
	if !ok {
		t.Fatalf("expected *outcomeError, got %T (%v)", err, err)
	}
	return &oe.outcome
}

func TestStatusNoLockfile(t *testing.T) {
	withTempProject(t)
	out := runStatus(t, &globalFlags{})
	if out.Status != pxerr.StatusOK {
		t.Fatalf("expected StatusOK, got %v", out.Status)
	}
	if out.Message != "no lockfile; run `px sync`" {
		t.Fatalf("unexpected message: %q", out.Message)
	}
}

func TestStatusUpToDate(t *testing.T) {
	root := withTempProject(t)
	m, err := manifest.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	snap := manifest.Snapshot(m)
	lock := lockfile.Lockfile{
		Version:  1,
		Metadata: lockfile.Metadata{ManifestFingerprint: snap.ManifestFingerprint},
	}
	if err := lockfile.Write(m.LockPath(), lock); err != nil {
		t.Fatal(err)
	}
	writeState(t, root, "profile-oid", "")

	out := runStatus(t, &globalFlags{})
	if out.Message != "up to date" {
		t.Fatalf("unexpected message: %q", out.Message)
	}
	report, ok := out.Details.(statusReport)
	if !ok {
		t.Fatalf("expected statusReport details, got %T", out.Details)
	}
	if !report.HasLock || report.ManifestDrifted {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestStatusManifestDrifted(t *testing.T) {
	root := withTempProject(t)
	m, err := manifest.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	lock := lockfile.Lockfile{
		Version:  1,
		Metadata: lockfile.Metadata{ManifestFingerprint: "stale"},
	}
	if err := lockfile.Write(m.LockPath(), lock); err != nil {
		t.Fatal(err)
	}

	out := runStatus(t, &globalFlags{})
	if out.Message != "manifest has drifted from the lockfile; run `px sync`" {
		t.Fatalf("unexpected message: %q", out.Message)
	}
}
