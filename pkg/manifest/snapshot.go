package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ProjectSnapshot is the immutable input to the lock pipeline (C5): the
// manifest content plus whatever else determines the manifest fingerprint.
// It deliberately excludes anything resolution-dependent (no artifact
// metadata) so that fingerprint computation never requires network access.
type ProjectSnapshot struct {
	Root                string
	Name                string
	PythonRequirement   string
	Dependencies        []Dependency
	Px                  PxOptions
	WorkspaceMembers    []WorkspaceMember

	ManifestFingerprint string
}

// Snapshot builds a ProjectSnapshot from a loaded Manifest, computing the
// manifest fingerprint over its canonical byte form.
func Snapshot(m Manifest) ProjectSnapshot {
	s := ProjectSnapshot{
		Root:              m.Root,
		Name:              m.Name,
		PythonRequirement: m.PythonRequirement,
		Dependencies:      append([]Dependency(nil), m.Dependencies...),
		Px:                m.Px,
		WorkspaceMembers:  append([]WorkspaceMember(nil), m.WorkspaceMembers...),
	}
	s.ManifestFingerprint = computeFingerprint(s)
	return s
}

// computeFingerprint is a pure function of (dependency specs, python
// requirement, workspace members, px options, dependency groups). Two
// byte-equal manifests must yield identical fingerprints, so every input is
// sorted into a stable order before hashing: field order in the source TOML
// must never matter.
func computeFingerprint(s ProjectSnapshot) string {
	h := sha256.New()

	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	write("name", s.Name, "python", s.PythonRequirement)

	deps := append([]Dependency(nil), s.Dependencies...)
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Group != deps[j].Group {
			return deps[i].Group < deps[j].Group
		}
		return deps[i].Spec < deps[j].Spec
	})
	for _, d := range deps {
		write("dep", d.Group, d.Spec)
	}

	members := append([]WorkspaceMember(nil), s.WorkspaceMembers...)
	sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })
	for _, wm := range members {
		write("member", wm.Name, wm.Path)
	}

	write("index", strings.Join(sortedStrings(s.Px.Index), ","))
	write("system-deps", strings.Join(sortedStrings(s.Px.SystemDeps), ","))
	write("sandbox-base", s.Px.SandboxBase)
	for _, k := range sortedMapKeys(s.Px.EnvVars) {
		write("env", k, s.Px.EnvVars[k])
	}
	for _, k := range sortedMapKeys(s.Px.BuilderImages) {
		write("builder-image", k, s.Px.BuilderImages[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sortedStrings(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedMapKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
