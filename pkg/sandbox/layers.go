package sandbox

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	slashpath "path"
	"sort"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/google/go-containerregistry/pkg/v1/types"
	gitignore "github.com/sabhiram/go-gitignore"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// defaultIgnoredApp is always excluded from the app layer regardless of
// .gitignore content.
var defaultIgnoredApp = []string{".git", ".px", "__pycache__", ".venv"}

func newLayer(tarPath string) (v1.Descriptor, v1.Layer, error) {
	layer, err := tarball.LayerFromFile(tarPath)
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	size, err := layer.Size()
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	digest, err := layer.Digest()
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return v1.Descriptor{MediaType: types.OCILayer, Size: size, Digest: digest}, layer, nil
}

// buildEnvironmentLayer packs §4.10 step 3: /px/runtime (interpreter tree,
// python-related files only), /px/env (C7's env dir with host paths
// rewritten), and /px/store/pkg-builds/<oid> for every referenced
// pkg-build.
func buildEnvironmentLayer(tarPath string, in EnvironmentInputs) (v1.Descriptor, v1.Layer, error) {
	w, err := os.Create(tarPath)
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	defer w.Close()
	tw := tar.NewWriter(w)
	defer tw.Close()

	if err := addTreeFiltered(tw, in.RuntimeRoot, "/px/runtime", isPythonRelated); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	if err := addTreeRewritten(tw, in.EnvDir, "/px/env", in); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}

	oids := make([]string, 0, len(in.PkgBuildDirs))
	for oid := range in.PkgBuildDirs {
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	for _, oid := range oids {
		dest := "/px/store/pkg-builds/" + oid
		if err := addTreeFiltered(tw, in.PkgBuildDirs[oid], dest, nil); err != nil {
			return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
		}
	}

	if err := tw.Close(); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	if err := w.Close(); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return newLayer(tarPath)
}

func isPythonRelated(relPath string) bool {
	switch filepath.Ext(relPath) {
	case ".py", ".so", ".pyi", ".dist-info", "":
		return true
	}
	return strings.Contains(relPath, "lib-dynload") || strings.HasPrefix(relPath, "lib/") || strings.HasPrefix(relPath, "bin/")
}

// addTreeRewritten mirrors addTreeFiltered but rewrites .pth lines and the
// pyvenv.cfg `home` entry so that container-side tools resolve paths under
// /px/runtime and /px/store instead of the host's.
func addTreeRewritten(tw *tar.Writer, root, dest string, in EnvironmentInputs) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := slashpath.Join(dest, filepath.ToSlash(rel))
		if info.IsDir() {
			if rel == "." {
				return nil
			}
			return writeDirHeader(tw, name)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if strings.HasSuffix(p, ".pth") || strings.HasSuffix(p, "pyvenv.cfg") {
			content = []byte(rewritePaths(string(content), in))
		}
		return writeFileHeader(tw, name, content)
	})
}

func rewritePaths(content string, in EnvironmentInputs) string {
	out := content
	out = strings.ReplaceAll(out, in.RuntimeRoot, "/px/runtime")
	for oid, dir := range in.PkgBuildDirs {
		out = strings.ReplaceAll(out, dir, "/px/store/pkg-builds/"+oid)
	}
	return out
}

// buildAppLayer packs §4.10 step 4: the project tree, filtered by
// .gitignore, .px, and typical cache directories. Grounded on
// pkg/pipelines/tekton's use of sabhiram/go-gitignore to honor a project's
// own ignore rules when assembling a build context.
func buildAppLayer(tarPath string, in AppInputs) (v1.Descriptor, v1.Layer, error) {
	w, err := os.Create(tarPath)
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	defer w.Close()
	tw := tar.NewWriter(w)
	defer tw.Close()

	matcher, _ := gitignore.CompileIgnoreFile(filepath.Join(in.ProjectRoot, ".gitignore"))

	err = filepath.Walk(in.ProjectRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(in.ProjectRoot, p)
		if err != nil || rel == "." {
			return err
		}
		for _, ig := range defaultIgnoredApp {
			if rel == ig || strings.HasPrefix(rel, ig+string(filepath.Separator)) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := slashpath.Join("/app", filepath.ToSlash(rel))
		if info.IsDir() {
			return writeDirHeader(tw, name)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return nil // symlinks outside project scope are not resolvable in-container; skipped
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return writeFileHeader(tw, name, content)
	})
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	if err := tw.Close(); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	if err := w.Close(); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return newLayer(tarPath)
}

func addTreeFiltered(tw *tar.Writer, root, dest string, keep func(relPath string) bool) error {
	if root == "" {
		return nil
	}
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if keep != nil && !info.IsDir() && !keep(filepath.ToSlash(rel)) {
			return nil
		}
		name := slashpath.Join(dest, filepath.ToSlash(rel))
		if info.IsDir() {
			return writeDirHeader(tw, name)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return writeFileHeader(tw, name, content)
	})
}

func writeDirHeader(tw *tar.Writer, name string) error {
	return tw.WriteHeader(&tar.Header{Name: name + "/", Typeflag: tar.TypeDir, Mode: 0o755})
}

func writeFileHeader(tw *tar.Writer, name string, content []byte) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}); err != nil {
		return err
	}
	_, err := io.Copy(tw, strings.NewReader(string(content)))
	return err
}

func fmtLayerName(i int, label string) string {
	return fmt.Sprintf("%02d-%s", i, label)
}
