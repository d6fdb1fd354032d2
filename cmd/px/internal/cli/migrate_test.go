package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

func TestMigrateAlreadyCurrent(t *testing.T) {
	root := withTempProject(t)
	m, err := manifest.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := lockfile.Write(m.LockPath(), lockfile.Lockfile{Version: currentLockVersion}); err != nil {
		t.Fatal(err)
	}

	cmd := newMigrateCmd(&globalFlags{})
	err = cmd.RunE(cmd, nil)
	oe := err.(*outcomeError)
	if oe.outcome.Message != "lockfile already at the current version" {
		t.Fatalf("unexpected message: %q", oe.outcome.Message)
	}
}

func TestMigrateBumpsVersion(t *testing.T) {
	root := withTempProject(t)
	m, err := manifest.Load(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := lockfile.Write(m.LockPath(), lockfile.Lockfile{Version: 0}); err != nil {
		t.Fatal(err)
	}

	cmd := newMigrateCmd(&globalFlags{})
	if err := cmd.RunE(cmd, nil); err != nil {
		if oe, ok := err.(*outcomeError); !ok || oe.outcome.Status != pxerr.StatusOK {
			t.Fatalf("unexpected outcome: %v", err)
		}
	}

	got, err := lockfile.Load(filepath.Join(root, "px.lock"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != currentLockVersion {
		t.Fatalf("expected version %d, got %d", currentLockVersion, got.Version)
	}
}

func TestMigrateRequiresProject(t *testing.T) {
	dir := t.TempDir()
	oldwd, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(oldwd)

	cmd := newMigrateCmd(&globalFlags{})
	err := cmd.RunE(cmd, nil)
	oe, ok := err.(*outcomeError)
	if !ok || oe.outcome.Status != pxerr.StatusUserError {
		t.Fatalf("expected a user error, got %v", err)
	}
}
