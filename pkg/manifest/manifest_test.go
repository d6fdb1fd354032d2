package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/manifest"
)

const samplePyproject = `
[project]
name = "demo"
requires-python = ">=3.10"
dependencies = ["requests>=2.31", "click"]

[project.optional-dependencies]
dev = ["pytest"]

[tool.px]
index = ["https://pypi.org/simple"]

[tool.px.workspace]
members = ["packages/lib"]
`

func writeManifest(t *testing.T, dir, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, manifest.ManifestFile), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, samplePyproject)

	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if m.Name != "demo" {
		t.Fatalf("name = %q, want demo", m.Name)
	}
	if m.PythonRequirement != ">=3.10" {
		t.Fatalf("python requirement = %q", m.PythonRequirement)
	}
	if len(m.Dependencies) != 3 {
		t.Fatalf("deps = %v, want 3 entries (2 default + 1 dev)", m.Dependencies)
	}
	if !m.IsWorkspace() {
		t.Fatal("expected workspace manifest")
	}
}

func TestLoadMissingNameIsError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[project]
requires-python = ">=3.10"
`)
	if _, err := manifest.Load(dir); err != manifest.ErrNameRequired {
		t.Fatalf("err = %v, want ErrNameRequired", err)
	}
}

func TestSnapshotFingerprintIsOrderIndependent(t *testing.T) {
	dirA := t.TempDir()
	writeManifest(t, dirA, `[project]
name = "demo"
requires-python = ">=3.10"
dependencies = ["requests>=2.31", "click"]
`)
	dirB := t.TempDir()
	writeManifest(t, dirB, `[project]
name = "demo"
requires-python = ">=3.10"
dependencies = ["click", "requests>=2.31"]
`)

	mA, err := manifest.Load(dirA)
	if err != nil {
		t.Fatal(err)
	}
	mB, err := manifest.Load(dirB)
	if err != nil {
		t.Fatal(err)
	}

	sA := manifest.Snapshot(mA)
	sB := manifest.Snapshot(mB)
	if sA.ManifestFingerprint != sB.ManifestFingerprint {
		t.Fatalf("fingerprints differ despite byte-equal dependency sets: %s vs %s", sA.ManifestFingerprint, sB.ManifestFingerprint)
	}
}

func TestSnapshotFingerprintChangesWithDependencies(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `[project]
name = "demo"
dependencies = ["click"]
`)
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	s1 := manifest.Snapshot(m)

	m.Dependencies = append(m.Dependencies, manifest.Dependency{Spec: "requests"})
	s2 := manifest.Snapshot(m)

	if s1.ManifestFingerprint == s2.ManifestFingerprint {
		t.Fatal("fingerprint did not change after adding a dependency")
	}
}

func TestOnboardFromRequirementsTxt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("# comment\nrequests==2.31.0\nclick\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Onboard(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Dependencies) != 2 {
		t.Fatalf("deps = %v, want 2", m.Dependencies)
	}
}
