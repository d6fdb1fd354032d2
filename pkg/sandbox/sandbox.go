// Package sandbox implements the Sandbox Packer (C10): assembling an OCI
// image out of a base-OS layer, an optional system-deps layer, an
// environment layer derived from a materialized env directory, and an app
// layer built from the project tree, then handing the result to a
// container backend for process launch.
//
// Layer construction is grounded on pkg/oci's tarball-then-descriptor
// idiom (build a tar, wrap it as a v1.Layer, hash it into a descriptor,
// assemble a manifest) using google/go-containerregistry, the same
// library the teacher package imports for this purpose.
package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

// CapabilitySet is an ordered, deduplicated set of container capabilities
// requested for a run (e.g. network access, extra mounts).
type CapabilitySet []string

// Spec is the complete set of inputs that determine image identity (§4.10).
type Spec struct {
	ProfileOID       string
	LockContent      []byte // raw lockfile (or workspace lockfile) bytes
	Capabilities     CapabilitySet
	BaseOSDigest     string
	ToolEnvSettings  map[string]string
}

// ID computes sbx_id: a hash over every field that can change what the
// resulting image contains. Two specs with identical substance, regardless
// of capability slice or map ordering, hash identically.
func (s Spec) ID() string {
	caps := append(CapabilitySet(nil), s.Capabilities...)
	sort.Strings(caps)

	keys := make([]string, 0, len(s.ToolEnvSettings))
	for k := range s.ToolEnvSettings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	settings := make(map[string]string, len(keys))
	for _, k := range keys {
		settings[k] = s.ToolEnvSettings[k]
	}

	canon, _ := json.Marshal(struct {
		ProfileOID      string            `json:"profile_oid"`
		LockSHA         string            `json:"lock_sha256"`
		Capabilities    CapabilitySet     `json:"capabilities"`
		BaseOSDigest    string            `json:"base_os_digest"`
		ToolEnvSettings map[string]string `json:"tool_env_settings"`
	}{
		ProfileOID:      s.ProfileOID,
		LockSHA:         hashHex(s.LockContent),
		Capabilities:    caps,
		BaseOSDigest:    s.BaseOSDigest,
		ToolEnvSettings: settings,
	})
	return hashHex(canon)
}

func hashHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EnvironmentInputs describes what goes into the environment layer (§4.10
// step 3): the interpreter tree, the env directory from the materializer,
// and the pkg-build roots it references.
type EnvironmentInputs struct {
	RuntimeRoot  string            // host path to the interpreter tree
	EnvDir       string            // host path to the materialized env (C7 output)
	PkgBuildDirs map[string]string // pkg-build oid -> host directory
}

// AppInputs describes the project tree to containerize (§4.10 step 4).
type AppInputs struct {
	ProjectRoot string
}

// BuildRequest bundles everything Pack needs for one image.
type BuildRequest struct {
	Spec         Spec
	BaseImageRef string // e.g. "python:3.12-slim"
	SystemDeps   []string
	Environment  EnvironmentInputs
	App          AppInputs
}

// Image is the built artifact: a manifest plus the id used to look it up
// again without rebuilding.
type Image struct {
	SandboxID string
	Manifest  v1.Manifest
	Config    v1.ConfigFile
}
