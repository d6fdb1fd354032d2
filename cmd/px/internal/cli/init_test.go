package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pxtools/px/pkg/manifest"
)

func TestWritePyprojectRendersDependencies(t *testing.T) {
	root := t.TempDir()
	m := manifest.Manifest{
		Root:              root,
		Name:              "demo",
		PythonRequirement: ">=3.11",
		Dependencies: []manifest.Dependency{
			{Spec: "requests>=2.31"},
			{Spec: "click"},
		},
	}
	if err := writePyproject(m); err != nil {
		t.Fatal(err)
	}

	bb, err := os.ReadFile(filepath.Join(root, manifest.ManifestFile))
	if err != nil {
		t.Fatal(err)
	}
	content := string(bb)
	for _, want := range []string{`name = "demo"`, `requires-python = ">=3.11"`, `"requests>=2.31"`, `"click"`} {
		if !strings.Contains(content, want) {
			t.Fatalf("expected content to contain %q, got:\n%s", want, content)
		}
	}

	reloaded, err := manifest.Load(root)
	if err != nil {
		t.Fatalf("round-tripped pyproject.toml failed to parse: %v", err)
	}
	if reloaded.Name != "demo" || reloaded.PythonRequirement != ">=3.11" {
		t.Fatalf("unexpected reloaded manifest: %+v", reloaded)
	}
	if len(reloaded.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(reloaded.Dependencies))
	}
}

func TestNewInitCmdOnboardsDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("click==8.1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newInitCmd(&globalFlags{})
	err := cmd.RunE(cmd, []string{dir})
	oe, ok := err.(*outcomeError)
	if !ok {
		t.Fatalf("expected *outcomeError, got %T (%v)", err, err)
	}
	if oe.outcome.Status.ExitCode() != 0 {
		t.Fatalf("expected success, got %+v", oe.outcome)
	}

	if _, err := os.Stat(filepath.Join(dir, manifest.ManifestFile)); err != nil {
		t.Fatalf("expected pyproject.toml to be written: %v", err)
	}
}
