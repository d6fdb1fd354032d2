// Package lockfile implements the Lock Pipeline (C5): composing resolver
// and wheel-cache output into a deterministic, TOML-rendered lockfile with
// a stable identity hash, plus drift detection and cached_path self-healing.
//
// Grounded on pkg/functions.Function's "load/validate/write" lifecycle for
// a project's on-disk descriptor (func.yaml there, px.lock here), using the
// teacher's direct BurntSushi/toml dependency for serialization.
package lockfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
)

const (
	FileNameSingle    = "px.lock"
	FileNameWorkspace = "px.workspace.lock"
	ModeP0Pinned      = "p0-pinned"
)

// Metadata is the `[metadata]` table.
type Metadata struct {
	PxVersion           string `toml:"px_version"`
	Mode                string `toml:"mode"`
	ManifestFingerprint string `toml:"manifest_fingerprint"`
	LockID              string `toml:"lock_id"`
}

// Project is the `[project]` table.
type Project struct {
	Name string `toml:"name"`
}

// Python is the `[python]` table.
type Python struct {
	Requirement string `toml:"requirement"`
}

// Artifact is `[dependencies.artifact]`.
type Artifact struct {
	Filename         string `toml:"filename"`
	URL              string `toml:"url"`
	SHA256           string `toml:"sha256"`
	Size             int64  `toml:"size"`
	PythonTag        string `toml:"python_tag"`
	ABITag           string `toml:"abi_tag"`
	PlatformTag      string `toml:"platform_tag"`
	CachedPath       string `toml:"cached_path"`
	IsDirectURL      bool   `toml:"is_direct_url,omitempty"`
	BuildOptionsHash string `toml:"build_options_hash,omitempty"`
}

// Dependency is one `[[dependencies]]` entry.
type Dependency struct {
	Name      string    `toml:"name"`
	Specifier string    `toml:"specifier"`
	Extras    []string  `toml:"extras,omitempty"`
	Marker    string    `toml:"marker,omitempty"`
	Direct    bool      `toml:"direct"`
	Requires  []string  `toml:"requires,omitempty"`
	Source    string    `toml:"source,omitempty"`
	Artifact  *Artifact `toml:"artifact,omitempty"`
}

// GraphNode is `[[graph.nodes]]` (v2 only).
type GraphNode struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Parents []string `toml:"parents,omitempty"`
}

// GraphTarget is `[[graph.targets]]` (v2 only): per-marker-environment
// metadata about which nodes are active.
type GraphTarget struct {
	Marker string   `toml:"marker"`
	Nodes  []string `toml:"nodes"`
}

// GraphArtifact is `[[graph.artifacts]]` (v2 only).
type GraphArtifact struct {
	Name     string   `toml:"name"`
	Artifact Artifact `toml:"artifact"`
}

// Graph is the `[graph]` table (v2 only).
type Graph struct {
	Nodes     []GraphNode     `toml:"nodes,omitempty"`
	Targets   []GraphTarget   `toml:"targets,omitempty"`
	Artifacts []GraphArtifact `toml:"artifacts,omitempty"`
}

// WorkspaceMemberLock is one entry of `[workspace]`.
type WorkspaceMemberLock struct {
	Name string `toml:"name"`
	Path string `toml:"path"`
}

// Workspace is the optional `[workspace]` table.
type Workspace struct {
	Members []WorkspaceMemberLock `toml:"members,omitempty"`
}

// Lockfile is the full, parsed shape of px.lock / px.workspace.lock.
//
// Field order here is the serialized table order (§6): version, metadata,
// project, python, dependencies, graph (v2), workspace (optional).
type Lockfile struct {
	Version      int          `toml:"version"`
	Metadata     Metadata     `toml:"metadata"`
	Project      Project      `toml:"project"`
	Python       Python       `toml:"python"`
	Dependencies []Dependency `toml:"dependencies"`
	Graph        *Graph       `toml:"graph,omitempty"`
	Workspace    *Workspace   `toml:"workspace,omitempty"`
}

// Render serializes l in canonical, deterministic form: dependencies sorted
// by normalized name then specifier (the caller is expected to have already
// normalized names into Dependency.Name).
func Render(l Lockfile) ([]byte, error) {
	sorted := l
	sorted.Dependencies = append([]Dependency(nil), l.Dependencies...)
	sort.Slice(sorted.Dependencies, func(i, j int) bool {
		if sorted.Dependencies[i].Name != sorted.Dependencies[j].Name {
			return sorted.Dependencies[i].Name < sorted.Dependencies[j].Name
		}
		return sorted.Dependencies[i].Specifier < sorted.Dependencies[j].Specifier
	})

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(sorted); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse decodes a lockfile's TOML bytes; it does not check field values.
func Parse(b []byte) (Lockfile, error) {
	var l Lockfile
	if err := toml.Unmarshal(b, &l); err != nil {
		return Lockfile{}, fmt.Errorf("parsing lockfile: %w", err)
	}
	return l, nil
}

// Load reads a lockfile from disk.
func Load(path string) (Lockfile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Lockfile{}, err
	}
	return Parse(b)
}

// Write renders and writes a lockfile to disk atomically (sibling temp file
// + rename), matching the atomic-write idiom used across the store.
func Write(path string, l Lockfile) error {
	b, err := Render(l)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ComputeLockID implements I5: lock_id = sha256(fingerprint || canonical
// bytes of each resolved dependency's identity fields). Deps are sorted
// into Render's ordering first, so the input order does not affect the hash.
func ComputeLockID(manifestFingerprint string, deps []Dependency) string {
	h := sha256.New()
	h.Write([]byte(manifestFingerprint))
	h.Write([]byte{0})

	sorted := append([]Dependency(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].Specifier < sorted[j].Specifier
	})

	for _, d := range sorted {
		write := func(s string) { h.Write([]byte(s)); h.Write([]byte{0}) }
		write(d.Name)
		write(d.Specifier)
		write(d.Marker)
		extras := append([]string(nil), d.Extras...)
		sort.Strings(extras)
		write(fmt.Sprint(extras))
		requires := append([]string(nil), d.Requires...)
		sort.Strings(requires)
		write(fmt.Sprint(requires))
		if d.Artifact != nil {
			write(d.Artifact.Filename)
			write(d.Artifact.SHA256)
			write(d.Artifact.PythonTag)
			write(d.Artifact.ABITag)
			write(d.Artifact.PlatformTag)
			// cached_path and URL are deliberately excluded: they are
			// mutable fields that must not perturb lock identity (I8).
		}
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)
}
