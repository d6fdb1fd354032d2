package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
	"github.com/pxtools/px/pkg/planner"
)

func writeState(t *testing.T, root string, profileOID, id string) {
	t.Helper()
	dir := filepath.Join(root, ".px")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	s := projectState{}
	s.CurrentEnv.ID = id
	s.CurrentEnv.ProfileOID = profileOID
	bb, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "state.json"), bb, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadProjectStateMissing(t *testing.T) {
	if _, ok := readProjectState(t.TempDir()); ok {
		t.Fatal("expected ok=false for a project with no .px/state.json")
	}
}

func TestReadProjectStateRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeState(t, root, "profile-oid-1", "lock-id-1")

	got, ok := readProjectState(root)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got.CurrentEnv.ProfileOID != "profile-oid-1" || got.CurrentEnv.ID != "lock-id-1" {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestLockProfileOID(t *testing.T) {
	root := t.TempDir()
	if got := lockProfileOID(root); got != "" {
		t.Fatalf("expected empty oid with no state, got %q", got)
	}
	writeState(t, root, "profile-oid-2", "lock-id-2")
	if got := lockProfileOID(root); got != "profile-oid-2" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildPlanRequestNoLock(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, manifest.ManifestFile), []byte("[project]\nname = \"demo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := manifest.Manifest{Root: root, Name: "demo"}

	req, _, hasLock := buildPlanRequest(planner.CommandRun, "main.py", nil, m, m.LockPath(), false, false, "", root)
	if hasLock {
		t.Fatal("expected hasLock=false when no lockfile is present")
	}
	if req.HasLock {
		t.Fatal("expected req.HasLock=false")
	}
	if !req.WouldRepairEnv {
		t.Fatal("expected WouldRepairEnv=true with no .px/state.json")
	}
}

func TestBuildPlanRequestManifestDrift(t *testing.T) {
	root := t.TempDir()
	m := manifest.Manifest{Root: root, Name: "demo"}

	lock := lockfile.Lockfile{
		Version:  1,
		Metadata: lockfile.Metadata{ManifestFingerprint: "stale-fingerprint"},
	}
	if err := lockfile.Write(m.LockPath(), lock); err != nil {
		t.Fatal(err)
	}

	req, _, hasLock := buildPlanRequest(planner.CommandRun, "main.py", nil, m, m.LockPath(), false, false, "", root)
	if !hasLock {
		t.Fatal("expected hasLock=true")
	}
	if !req.ManifestDrifted {
		t.Fatal("expected ManifestDrifted=true since the written fingerprint never matches an empty manifest's snapshot coincidentally")
	}
}

func TestBuildPlanRequestEnvDriftWhenStateStale(t *testing.T) {
	root := t.TempDir()
	m := manifest.Manifest{Root: root, Name: "demo"}

	lock := lockfile.Lockfile{
		Version:  1,
		Metadata: lockfile.Metadata{ManifestFingerprint: "", LockID: "lock-id-current"},
	}
	if err := lockfile.Write(m.LockPath(), lock); err != nil {
		t.Fatal(err)
	}
	writeState(t, root, "profile-oid", "lock-id-old")

	req, _, _ := buildPlanRequest(planner.CommandRun, "main.py", nil, m, m.LockPath(), false, false, "", root)
	if !req.EnvDrifted {
		t.Fatal("expected EnvDrifted=true when state.CurrentEnv.ID differs from the lock's LockID")
	}
	if !req.WouldRepairEnv {
		t.Fatal("expected WouldRepairEnv to mirror EnvDrifted")
	}
}

func TestIsTerminalOnRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notatty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if isTerminal(f) {
		t.Fatal("expected a regular file to not report as a terminal")
	}
}

func TestAsExitError(t *testing.T) {
	if _, ok := asExitError(nil); ok {
		t.Fatal("expected ok=false for a nil error")
	}
	if _, ok := asExitError(errTestPlain{}); ok {
		t.Fatal("expected ok=false for an error without ExitCode()")
	}
	if code, ok := asExitError(errTestExit{code: 7}); !ok || code != 7 {
		t.Fatalf("got code=%d ok=%v, want 7/true", code, ok)
	}
}

type errTestPlain struct{}

func (errTestPlain) Error() string { return "plain" }

type errTestExit struct{ code int }

func (e errTestExit) Error() string   { return "exit" }
func (e errTestExit) ExitCode() int { return e.code }
