package profile

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// canonicalTar walks an unpacked wheel's dist directory and produces a
// deterministic tar: entries sorted by path, mtimes zeroed, __pycache__
// directories excluded, and the RECORD file's line order normalized
// (§3 pkg-build: "oid = hash of canonical tar").
func canonicalTar(distDir string) ([]byte, error) {
	var paths []string
	err := filepath.Walk(distDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(distDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			if info.Name() == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(rel, ".pyc") || strings.HasSuffix(rel, ".pyo") {
			return nil
		}
		if rel == markerFileName {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	epoch := time.Unix(0, 0).UTC()

	for _, rel := range paths {
		full := filepath.Join(distDir, rel)
		content, err := readAndMaybeCanonicalizeRecord(rel, full)
		if err != nil {
			return nil, err
		}
		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Size:    int64(len(content)),
			Mode:    0o644,
			ModTime: epoch,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const markerFileName = ".px-wheel.json"

// readAndMaybeCanonicalizeRecord sorts a dist-info RECORD file's lines so
// that directory-walk order never leaks into the pkg-build's identity hash.
func readAndMaybeCanonicalizeRecord(rel, full string) ([]byte, error) {
	b, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(rel, "/RECORD") && rel != "RECORD" {
		return b, nil
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	sort.Strings(lines)
	return []byte(strings.Join(lines, "\n") + "\n"), nil
}
