package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtools/px/pkg/manifest"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

func TestFindProjectRootWalksUp(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, manifest.ManifestFile), []byte("[project]\nname = \"demo\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	found, err := findProjectRoot(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found != root {
		t.Fatalf("got %q, want %q", found, root)
	}
}

func TestFindProjectRootMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := findProjectRoot(dir)
	ue, ok := err.(*pxerr.UserError)
	if !ok {
		t.Fatalf("expected *pxerr.UserError, got %T (%v)", err, err)
	}
	if ue.Reason != pxerr.ReasonMissingProject {
		t.Fatalf("got reason %q", ue.Reason)
	}
}

func TestLoadProjectNonWorkspaceMemberRejected(t *testing.T) {
	root := t.TempDir()
	content := "[project]\nname = \"demo\"\nrequires-python = \">=3.11\"\ndependencies = []\n"
	if err := os.WriteFile(filepath.Join(root, manifest.ManifestFile), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := loadProject(root, "nonexistent-member")
	ue, ok := err.(*pxerr.UserError)
	if !ok {
		t.Fatalf("expected *pxerr.UserError, got %T (%v)", err, err)
	}
	if ue.Reason != pxerr.ReasonMissingWorkspaceMetadata {
		t.Fatalf("got reason %q", ue.Reason)
	}
}
