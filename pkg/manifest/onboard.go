package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Onboard scans an existing, unmanaged directory and synthesizes an
// initial Manifest from whatever dependency declarations it can find
// (currently requirements.txt). This is the Go equivalent of
// px-domain/src/project/onboard.rs, grounded on pkg/functions.Client.Init's
// "populate sane defaults for a not-yet-managed directory" shape.
//
// Onboard never writes pyproject.toml itself — callers decide whether to
// persist the result (mirrors Init returning a Function the caller then
// writes via f.Write()).
func Onboard(dir string) (Manifest, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Manifest{}, err
	}
	if _, err := os.Stat(filepath.Join(abs, ManifestFile)); err == nil {
		return Manifest{}, fmt.Errorf("%s already contains a %s", abs, ManifestFile)
	}

	m := Manifest{
		Root:              abs,
		Name:              nameFromPath(abs),
		PythonRequirement: ">=3.9",
	}

	reqPath := filepath.Join(abs, "requirements.txt")
	if f, err := os.Open(reqPath); err == nil {
		defer f.Close()
		deps, err := parseRequirementsTxt(f)
		if err != nil {
			return Manifest{}, fmt.Errorf("parsing requirements.txt: %w", err)
		}
		m.Dependencies = deps
	}

	return m, nil
}

func parseRequirementsTxt(f *os.File) ([]Dependency, error) {
	var deps []Dependency
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		// strip inline comments
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		deps = append(deps, Dependency{Spec: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Spec < deps[j].Spec })
	return deps, nil
}

// nameFromPath derives a default project name from a directory path,
// mirroring pkg/functions' nameFromPath for func.yaml defaulting.
func nameFromPath(path string) string {
	return filepath.Base(filepath.Clean(path))
}
