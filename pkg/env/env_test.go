package env_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/env"
	"github.com/pxtools/px/pkg/profile"
	"github.com/pxtools/px/pkg/runtimeregistry"
)

func fakeInterpreter(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "python3.12")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newMaterializer(t *testing.T, pkgDirs map[string]string) *env.Materializer {
	t.Helper()
	return env.New(func(oid string) (string, error) {
		dir, ok := pkgDirs[oid]
		if !ok {
			t.Fatalf("unexpected pkg-build oid requested: %s", oid)
		}
		return dir, nil
	})
}

func baseRequest(t *testing.T, envRoot string) env.Request {
	t.Helper()
	pkgDir := t.TempDir()
	m := newMaterializer(t, map[string]string{"oid-1": pkgDir})

	req := env.Request{
		EnvRoot: envRoot,
		Profile: profile.Manifest{
			RuntimeOID:   "rt-oid",
			Packages:     []profile.PackageRef{{Name: "demo", PkgBuildOID: "oid-1"}},
			SysPathOrder: []string{"oid-1"},
		},
		ProfileOID:     "profile-oid",
		Runtime:        runtimeregistry.Descriptor{Path: fakeInterpreter(t), Version: "3.12.1", PlatformTag: "linux_x86_64"},
		ProjectName:    "demo-project",
		ProjectVersion: "1.0.0",
		ProjectRoot:    t.TempDir(),
		NoEnsurePip:    true,
	}
	_ = m
	return req
}

func TestMaterializeCreatesExpectedLayout(t *testing.T) {
	ctx := context.Background()
	envRoot := filepath.Join(t.TempDir(), "envroot")
	req := baseRequest(t, envRoot)

	pkgDir := t.TempDir()
	m := newMaterializer(t, map[string]string{"oid-1": pkgDir})

	if err := m.Materialize(ctx, req); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Lstat(filepath.Join(envRoot, "bin", "python")); err != nil {
		t.Fatalf("expected bin/python symlink: %v", err)
	}
	if _, err := os.Stat(filepath.Join(envRoot, "pyvenv.cfg")); err != nil {
		t.Fatalf("expected pyvenv.cfg: %v", err)
	}
	siteDir := filepath.Join(envRoot, "lib", "python3.12", "site-packages")
	pth, err := os.ReadFile(filepath.Join(siteDir, "px.pth"))
	if err != nil {
		t.Fatalf("expected px.pth: %v", err)
	}
	if string(pth) != pkgDir+"\n" {
		t.Fatalf("px.pth contents = %q, want %q", pth, pkgDir+"\n")
	}
}

func TestRefreshLeavesPreviousEnvOnFailure(t *testing.T) {
	ctx := context.Background()
	envRoot := filepath.Join(t.TempDir(), "envroot")
	req := baseRequest(t, envRoot)
	pkgDir := t.TempDir()
	m := newMaterializer(t, map[string]string{"oid-1": pkgDir})

	if err := m.Materialize(ctx, req); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(envRoot, "sentinel.txt")
	if err := os.WriteFile(marker, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	badM := env.New(func(oid string) (string, error) {
		return "", os.ErrNotExist
	})
	if err := badM.Refresh(ctx, req); err == nil {
		t.Fatal("expected refresh to fail")
	}

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("previous env was not preserved after failed refresh: %v", err)
	}
}

func TestRefreshSwapsInNewEnv(t *testing.T) {
	ctx := context.Background()
	envRoot := filepath.Join(t.TempDir(), "envroot")
	req := baseRequest(t, envRoot)
	pkgDir := t.TempDir()
	m := newMaterializer(t, map[string]string{"oid-1": pkgDir})

	if err := m.Materialize(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := m.Refresh(ctx, req); err != nil {
		t.Fatal(err)
	}

	statePath := filepath.Join(req.ProjectRoot, ".px", "state.json")
	if _, err := os.Stat(statePath); err != nil {
		t.Fatalf("expected state.json after refresh: %v", err)
	}
	if _, err := os.Stat(envRoot + ".backup"); !os.IsNotExist(err) {
		t.Fatal("backup directory should be cleaned up after a successful refresh")
	}
}
