package profile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/cas"
	"github.com/pxtools/px/pkg/profile"
	"github.com/pxtools/px/pkg/wheelcache"
)

func writeFakeDist(t *testing.T, contents map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, body := range contents {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestBuildProducesStableProfileOID(t *testing.T) {
	ctx := context.Background()
	store, err := cas.Open(ctx, t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	dist := writeFakeDist(t, map[string]string{
		"demo/__init__.py":            "x = 1\n",
		"demo-1.0.dist-info/RECORD":   "demo/__init__.py,sha256=abc,3\n",
		"demo-1.0.dist-info/METADATA": "Name: demo\nVersion: 1.0\n",
	})

	b := profile.New(store)
	dep := profile.DependencyInput{Name: "demo", Artifact: wheelcache.CachedArtifact{DistPath: dist}, SHA256: "irrelevant"}

	m1, oid1, err := b.Build(ctx, "runtime-oid", []profile.DependencyInput{dep}, nil)
	if err != nil {
		t.Fatal(err)
	}
	m2, oid2, err := b.Build(ctx, "runtime-oid", []profile.DependencyInput{dep}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if oid1 != oid2 {
		t.Fatalf("rebuilding the same inputs produced different profile oids: %s vs %s", oid1, oid2)
	}
	if len(m1.Packages) != 1 || m1.Packages[0].Name != "demo" {
		t.Fatalf("unexpected packages: %+v", m1.Packages)
	}
	_ = m2
}

func TestBindOwnerSwapsRefAtomically(t *testing.T) {
	ctx := context.Background()
	store, err := cas.Open(ctx, t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	dist := writeFakeDist(t, map[string]string{"demo/__init__.py": "x=1\n"})
	b := profile.New(store)
	dep := profile.DependencyInput{Name: "demo", Artifact: wheelcache.CachedArtifact{DistPath: dist}}

	m1, oid1, err := b.Build(ctx, "runtime-a", []profile.DependencyInput{dep}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.BindOwner(ctx, cas.OwnerProjectEnv, "proj-1", "", oid1, m1); err != nil {
		t.Fatal(err)
	}
	n, err := store.RefCount(ctx, oid1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ref count = %d, want 1", n)
	}

	dep2 := profile.DependencyInput{Name: "demo2", Artifact: wheelcache.CachedArtifact{DistPath: writeFakeDist(t, map[string]string{"demo2/__init__.py": "y=2\n"})}}
	m2, oid2, err := b.Build(ctx, "runtime-a", []profile.DependencyInput{dep2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.BindOwner(ctx, cas.OwnerProjectEnv, "proj-1", oid1, oid2, m2); err != nil {
		t.Fatal(err)
	}

	n, err = store.RefCount(ctx, oid1)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("old profile still referenced by project-env: count=%d", n)
	}
}

func TestHasConflictingInstallDetectsNonPxDistInfo(t *testing.T) {
	dir := t.TempDir()
	distInfo := filepath.Join(dir, "demo-1.0.dist-info")
	if err := os.MkdirAll(distInfo, 0o755); err != nil {
		t.Fatal(err)
	}
	conflict, err := profile.HasConflictingInstall(dir, "demo-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if !conflict {
		t.Fatal("expected conflicting install to be detected")
	}

	if err := os.WriteFile(filepath.Join(distInfo, "PX-EDITABLE"), []byte{}, 0o644); err != nil {
		t.Fatal(err)
	}
	conflict, err = profile.HasConflictingInstall(dir, "demo-1.0")
	if err != nil {
		t.Fatal(err)
	}
	if conflict {
		t.Fatal("px-managed dist-info should not be flagged as conflicting")
	}
}
