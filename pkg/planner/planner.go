// Package planner implements the Execution Planner (C9): deciding engine
// mode, resolving the invocation target, and producing the ExecutionPlan
// that is both sufficient for the runner and the sole source of truth for
// `explain run`.
//
// Grounded on pkg/functions' request/response record shapes (a typed
// request in, a typed, serializable plan out) used throughout the client's
// build/deploy pipeline.
package planner

import (
	"os"
	"path/filepath"
	"strings"

	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// EngineMode is the two-state enum of §9.
type EngineMode string

const (
	EngineCASNative    EngineMode = "cas_native"
	EngineMaterialized EngineMode = "materialized_env"
)

// TargetKind is the four-state enum of §4.9.
type TargetKind string

const (
	TargetFile       TargetKind = "file"
	TargetExecutable TargetKind = "executable"
	TargetPython     TargetKind = "python"
	TargetModule     TargetKind = "module"
)

// Command is the invocation kind.
type Command string

const (
	CommandRun  Command = "run"
	CommandTest Command = "test"
	CommandTool Command = "tool"
)

// Request is the planner's input (§4.9).
type Request struct {
	Command          Command
	Target           string
	Args             []string
	Strict           bool // --frozen or CI=1
	Sandbox          bool
	AtRef            string
	ProjectRoot      string
	InvocationCwd    string
	HasLock          bool
	ManifestDrifted  bool
	EnvDrifted       bool
	WouldRepairEnv   bool
	MissingArtifacts []string
	TTY              bool
}

// TargetResolution is the resolved invocation shape.
type TargetResolution struct {
	Kind TargetKind
	Argv []string
}

// Provenance records whether sandboxing applies and where the plan's
// source tree came from (workspace root vs at-ref snapshot).
type Provenance struct {
	Sandbox bool
	Source  string // "workspace" or "at-ref:<ref>"
}

// ExecutionPlan is the sole artifact the runner needs (§4.9).
type ExecutionPlan struct {
	SchemaVersion    int
	Context          Command
	RuntimeVersion   string
	LockProfileOID   string
	Engine           EngineMode
	TargetResolution TargetResolution
	WorkingDir       string
	SysPath          []string
	Provenance       Provenance
}

const SchemaVersion = 1

// Plan runs the state-gating checks, decides engine mode per the decision
// table of §4.9, resolves the target, and computes the working directory.
func Plan(req Request, runtimeVersion, lockProfileOID string, sysPath []string) (ExecutionPlan, error) {
	if err := gate(req); err != nil {
		return ExecutionPlan{}, err
	}

	mode, fallback := decideEngine(req)
	_ = fallback // not part of the plan; Plan does not return it

	resolution := resolveTarget(req)

	wd := workingDir(req)

	return ExecutionPlan{
		SchemaVersion:    SchemaVersion,
		Context:          req.Command,
		RuntimeVersion:   runtimeVersion,
		LockProfileOID:   lockProfileOID,
		Engine:           mode,
		TargetResolution: resolution,
		WorkingDir:       wd,
		SysPath:          sysPath,
		Provenance: Provenance{
			Sandbox: req.Sandbox,
			Source:  sourceProvenance(req),
		},
	}, nil
}

// gate implements the state-gating checks of §4.9, run before engine
// selection.
func gate(req Request) error {
	if !req.HasLock {
		return pxerr.NewUserError(pxerr.ReasonMissingLock, "Run `px sync` to generate a lockfile.")
	}
	if req.ManifestDrifted {
		return pxerr.NewUserError(pxerr.ReasonLockDrift, "Run `px sync` to refresh the lockfile.")
	}
	if req.EnvDrifted && req.Strict {
		return pxerr.NewUserError(pxerr.ReasonEnvDrift, "Run `px sync` to repair the environment, or drop --frozen.")
	}
	return nil
}

// decideEngine implements the decision table of §4.9.
func decideEngine(req Request) (EngineMode, *pxerr.FallbackReason) {
	if req.AtRef != "" {
		return EngineMaterialized, nil
	}
	if req.Strict {
		return EngineMaterialized, nil
	}
	if req.Sandbox {
		return EngineMaterialized, nil
	}
	if len(req.MissingArtifacts) > 0 {
		r := pxerr.FallbackMissingArtifacts
		return EngineMaterialized, &r
	}
	return EngineCASNative, nil
}

func resolveTarget(req Request) TargetResolution {
	target := req.Target
	if isPythonAlias(target) {
		if len(req.Args) >= 2 && req.Args[0] == "-m" {
			return TargetResolution{Kind: TargetModule, Argv: append([]string{target}, req.Args...)}
		}
		return TargetResolution{Kind: TargetPython, Argv: append([]string{target}, req.Args...)}
	}

	candidate := target
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(req.ProjectRoot, candidate)
	}
	if within(candidate, req.ProjectRoot) && fileExists(candidate) {
		return TargetResolution{Kind: TargetFile, Argv: append([]string{"python", candidate}, req.Args...)}
	}

	return TargetResolution{Kind: TargetExecutable, Argv: append([]string{target}, req.Args...)}
}

func isPythonAlias(target string) bool {
	if target == "python" || target == "py" {
		return true
	}
	return strings.HasPrefix(target, "python3")
}

func within(candidate, root string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, "..")
}

func workingDir(req Request) string {
	if within(req.InvocationCwd, req.ProjectRoot) {
		return req.InvocationCwd
	}
	return req.ProjectRoot
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sourceProvenance(req Request) string {
	if req.AtRef != "" {
		return "at-ref:" + req.AtRef
	}
	return "workspace"
}
