// Package manifest loads a project's pyproject.toml-shaped manifest and
// turns it into the ProjectSnapshot consumed by the lock pipeline (C5).
//
// The TOML parser itself is treated as an external collaborator per
// spec.md §1 ("out of scope... referenced only by their contracts"); this
// package merely decodes the subset of fields px cares about using
// github.com/BurntSushi/toml, mirroring the way pkg/functions.Function
// decodes func.yaml with gopkg.in/yaml.v2.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestFile is the name of the serialized manifest on disk, analogous
// to pkg/functions.FunctionFile.
const ManifestFile = "pyproject.toml"

// Dependency is a single raw requirement string plus the optional group it
// belongs to ("" is the default/always-installed group).
type Dependency struct {
	Spec  string // e.g. "requests[socks]>=2.31; python_version >= '3.9'"
	Group string
}

// PxOptions is the [tool.px] table: options that influence resolution,
// the profile overlay, and execution but are not part of the dependency
// closure itself.
type PxOptions struct {
	Index         []string          `toml:"index,omitempty"`
	SystemDeps    []string          `toml:"system-deps,omitempty"`
	EnvVars       map[string]string `toml:"env,omitempty"`
	SandboxBase   string            `toml:"sandbox-base,omitempty"`
	BuilderImages map[string]string `toml:"builder-images,omitempty"`
}

// WorkspaceMember is one [tool.px.workspace] entry.
type WorkspaceMember struct {
	Name string
	Path string // relative to the workspace root
}

// Manifest is the decoded form of pyproject.toml's px-relevant fields.
type Manifest struct {
	Root string `toml:"-"` // directory containing ManifestFile; not serialized

	Name              string       `toml:"-"`
	PythonRequirement string       `toml:"-"`
	Dependencies      []Dependency `toml:"-"`
	Px                PxOptions    `toml:"-"`
	WorkspaceMembers  []WorkspaceMember `toml:"-"`

	raw rawDocument
}

// rawDocument mirrors the subset of PEP 621 / [tool.px] that px reads.
// Field names follow pyproject.toml exactly, hence the non-Go-ish casing
// via toml tags.
type rawDocument struct {
	Project struct {
		Name                 string              `toml:"name"`
		RequiresPython       string              `toml:"requires-python"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Px struct {
			PxOptions
			Workspace struct {
				Members []string `toml:"members"`
			} `toml:"workspace"`
		} `toml:"px"`
	} `toml:"tool"`
}

// Load reads and decodes the manifest rooted at dir (dir/pyproject.toml).
func Load(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	bb, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	return Parse(dir, bb)
}

// Parse decodes manifest bytes already read from disk (or extracted at a
// git ref by C11), rooted at dir for relative-path resolution.
func Parse(dir string, bb []byte) (m Manifest, err error) {
	m.Root = dir
	if _, err = toml.Decode(string(bb), &m.raw); err != nil {
		return Manifest{}, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}

	m.Name = m.raw.Project.Name
	m.PythonRequirement = m.raw.Project.RequiresPython
	m.Px = m.raw.Tool.Px.PxOptions

	for _, spec := range m.raw.Project.Dependencies {
		m.Dependencies = append(m.Dependencies, Dependency{Spec: spec})
	}
	// optional-dependencies groups are sorted for determinism (I4: two
	// byte-equal manifests must yield identical fingerprints regardless of
	// map iteration order).
	for _, group := range sortedKeys(m.raw.Project.OptionalDependencies) {
		for _, spec := range m.raw.Project.OptionalDependencies[group] {
			m.Dependencies = append(m.Dependencies, Dependency{Spec: spec, Group: group})
		}
	}

	for _, rel := range m.raw.Tool.Px.Workspace.Members {
		m.WorkspaceMembers = append(m.WorkspaceMembers, WorkspaceMember{
			Name: filepath.Base(rel),
			Path: rel,
		})
	}

	if m.Name == "" {
		return Manifest{}, ErrNameRequired
	}
	return m, nil
}

// IsWorkspace reports whether this manifest declares any [tool.px.workspace]
// members.
func (m Manifest) IsWorkspace() bool { return len(m.WorkspaceMembers) > 0 }

// LockPath returns the path of the lockfile this manifest should resolve
// to: px.workspace.lock for a workspace root, px.lock otherwise.
func (m Manifest) LockPath() string {
	if m.IsWorkspace() {
		return filepath.Join(m.Root, "px.workspace.lock")
	}
	return filepath.Join(m.Root, "px.lock")
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// simple insertion sort; the input set is always small (dependency groups)
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
