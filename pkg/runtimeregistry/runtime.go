// Package runtimeregistry implements the Runtime Registry (C3): discovery,
// probing, and store-registration of Python interpreters.
//
// Grounded on pkg/functions' "discover, validate, register" shape for
// builders/runners keyed by a name (there, a language runtime; here, a
// Python interpreter channel).
package runtimeregistry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pxtools/px/pkg/cas"
)

// Descriptor is the canonical, hashable shape of a Python interpreter (§3).
type Descriptor struct {
	Path         string   `json:"path"`
	Version      string   `json:"version"`       // "M.m.p"
	ABITag       string   `json:"abi_tag"`        // e.g. "cp312"
	WheelTags    []string `json:"wheel_tags"`     // ordered, most-specific first
	PlatformTag  string   `json:"platform_tag"`   // e.g. "manylinux_2_28_x86_64"
	Implementation string `json:"implementation"` // "cpython", "pypy", ...
}

// OID returns the content address of the descriptor's canonical JSON form.
func (d Descriptor) OID() string {
	b := canonicalJSON(d)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(d Descriptor) []byte {
	tags := append([]string(nil), d.WheelTags...)
	norm := Descriptor{
		Path: d.Path, Version: d.Version, ABITag: d.ABITag,
		WheelTags: tags, PlatformTag: d.PlatformTag, Implementation: d.Implementation,
	}
	b, _ := json.Marshal(norm)
	return b
}

// Probe is the external collaborator contract (§1: "the Python interpreter
// probe" is out of scope and referenced only by its contract): given an
// interpreter path, return its Descriptor.
type Probe interface {
	Probe(ctx context.Context, interpreterPath string) (Descriptor, error)
}

// Registry discovers and stores interpreters keyed by channel (e.g. "3.12").
type Registry struct {
	store   *cas.Store
	probe   Probe
	entries map[string]Entry
}

// Entry is one registered interpreter.
type Entry struct {
	Channel    string
	Descriptor Descriptor
	OID        string
}

func New(store *cas.Store, probe Probe) *Registry {
	return &Registry{store: store, probe: probe, entries: map[string]Entry{}}
}

// Register probes an interpreter path, persists its descriptor as a
// `runtime` object, and indexes it by channel.
func (r *Registry) Register(ctx context.Context, channel, path string) (Entry, error) {
	desc, err := r.probe.Probe(ctx, path)
	if err != nil {
		return Entry{}, fmt.Errorf("probing interpreter %s: %w", path, err)
	}
	oid := desc.OID()

	b := canonicalJSON(desc)
	if _, _, err := r.store.Put(ctx, cas.KindRuntime, bytes.NewReader(b)); err != nil {
		return Entry{}, err
	}
	if err := r.store.PutDir(ctx, cas.KindRuntime, oid, func(dir string) error {
		return writeDescriptorFile(dir, desc)
	}); err != nil {
		return Entry{}, err
	}

	e := Entry{Channel: channel, Descriptor: desc, OID: oid}
	r.entries[channel] = e
	return e, nil
}

// Explicit registers an interpreter at a caller-supplied path under the
// channel label "explicit:<path>", used for PX_RUNTIME_PYTHON overrides.
func (r *Registry) Explicit(ctx context.Context, path string) (Entry, error) {
	return r.Register(ctx, "explicit:"+path, path)
}

// Adopt inserts an already-built Entry directly, used when a caller
// registers the same interpreter against multiple registries (e.g. the
// host-only registry and a project-scoped registry sharing one store).
func (r *Registry) Adopt(e Entry) {
	r.entries[e.Channel] = e
}

// Channels returns the registry's known channels sorted for deterministic
// iteration (e.g. when rendering `px status`).
func (r *Registry) Channels() []string {
	out := make([]string, 0, len(r.entries))
	for c := range r.entries {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SelectForRequirement picks the leftmost channel, in Channels' sorted
// (lexicographic) order, whose descriptor version satisfies requiresPython,
// per §4.3 "leftmost compatible" rule. Registration order is not tracked.
func (r *Registry) SelectForRequirement(requiresPython string) (Entry, bool) {
	for _, ch := range r.Channels() {
		e := r.entries[ch]
		if VersionSatisfies(e.Descriptor.Version, requiresPython) {
			return e, true
		}
	}
	return Entry{}, false
}
