// Package resolver implements the Resolver Gateway (C4): a thin, behavior-
// preserving wrapper around an external dependency resolver, treated per
// spec as a pure function from a request to a resolved closure.
//
// Grounded on pkg/functions.Client's pattern of wrapping an external
// collaborator behind a narrow interface (there, a Pusher/Deployer binary;
// here, a resolver process) so the gateway's own logic stays testable
// without invoking the real tool.
package resolver

import (
	"context"
	"sort"
	"strings"
)

// Requirement is one dependency specifier as declared in the manifest.
type Requirement struct {
	Spec   string   // e.g. "requests[socks]>=2.31"
	Extras []string
	Marker string
	Group  string
}

// MarkerEnvironment is the PEP 508 marker environment derived from the
// selected interpreter (python_version, sys_platform, etc).
type MarkerEnvironment map[string]string

// ResolveRequest is the pure-function input of spec.md §4.4.
type ResolveRequest struct {
	Requirements  []Requirement
	MarkerEnv     MarkerEnvironment
	IndexURLs     []string
	CacheDir      string
	InterpreterPath string
	WorkspaceMembers map[string]string // normalized name -> absolute member root
}

// Artifact describes the wheel bound to a resolved specifier.
type Artifact struct {
	Filename    string
	URL         string
	SHA256      string
	WheelTags   []string
	IsDirectURL bool
}

// ResolvedSpecifier is one node of the resolved dependency closure.
type ResolvedSpecifier struct {
	Name         string // raw package name
	NormalizedName string
	Version      string
	Specifier    string
	Extras       []string
	Marker       string
	Requires     []string
	Direct       bool
	Source       string
	Artifact     *Artifact
}

// Engine is the external collaborator contract: an actual resolver backend
// (e.g. a pip-compatible resolution engine invoked out of process). The
// gateway never implements resolution itself.
type Engine interface {
	Resolve(ctx context.Context, req ResolveRequest) ([]ResolvedSpecifier, error)
}

// Gateway wraps an Engine, applying the behaviors the spec requires every
// wrapper to preserve: extras propagation, workspace source rewriting, and
// deterministic ordering.
type Gateway struct {
	engine Engine
}

func New(engine Engine) *Gateway {
	return &Gateway{engine: engine}
}

// Resolve rewrites workspace-member requirements into directory sources,
// delegates to the engine, and re-sorts the result deterministically by
// normalized name then specifier (§4.4).
func (g *Gateway) Resolve(ctx context.Context, req ResolveRequest) ([]ResolvedSpecifier, error) {
	rewritten := make([]Requirement, len(req.Requirements))
	for i, r := range req.Requirements {
		rewritten[i] = rewriteWorkspaceSource(r, req.WorkspaceMembers)
	}
	req.Requirements = rewritten

	out, err := g.engine.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	for i := range out {
		out[i].NormalizedName = NormalizeName(out[i].Name)
		out[i].Extras = sortedCopy(out[i].Extras)
		out[i].Requires = sortedCopy(out[i].Requires)
		out[i].Marker = stripExtraTokens(out[i].Marker)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NormalizedName != out[j].NormalizedName {
			return out[i].NormalizedName < out[j].NormalizedName
		}
		return out[i].Specifier < out[j].Specifier
	})
	return out, nil
}

// rewriteWorkspaceSource turns a requirement naming a workspace member into
// an editable directory-source requirement targeting the member's root
// (§4.4 "Workspace sources").
func rewriteWorkspaceSource(r Requirement, members map[string]string) Requirement {
	name := NormalizeName(baseName(r.Spec))
	root, ok := members[name]
	if !ok {
		return r
	}
	r.Spec = "file://" + root + "#egg=" + name
	r.Group = r.Group
	return r
}

func baseName(spec string) string {
	spec = strings.TrimSpace(spec)
	for i, c := range spec {
		if strings.ContainsRune("[<>=!~; ", c) {
			return spec[:i]
		}
	}
	return spec
}

// NormalizeName implements PEP 503 name normalization: lowercase, runs of
// [-_.] collapsed to a single hyphen.
func NormalizeName(name string) string {
	var b strings.Builder
	lastSep := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			if !lastSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			lastSep = true
			continue
		}
		b.WriteRune(r)
		lastSep = false
	}
	return strings.Trim(b.String(), "-")
}

// stripExtraTokens removes a leftover `extra == "..."` clause from a
// resolved dependency's marker. Extras are consumed by the resolver during
// graph expansion; a marker that still mentions the parent's extra would be
// meaningless once the edge has been materialized into a plain dependency
// (§4.4 "Extras propagation").
func stripExtraTokens(marker string) string {
	if marker == "" {
		return marker
	}
	clauses := strings.Split(marker, " and ")
	kept := clauses[:0]
	for _, c := range clauses {
		trimmed := strings.TrimSpace(c)
		if strings.HasPrefix(trimmed, "extra ==") || strings.HasPrefix(trimmed, "extra==") {
			continue
		}
		kept = append(kept, c)
	}
	return strings.Join(kept, " and ")
}

func sortedCopy(in []string) []string {
	if in == nil {
		return nil
	}
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
