package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pxtools/px/pkg/cas"
	"github.com/pxtools/px/pkg/casnative"
	"github.com/pxtools/px/pkg/cmdctx"
	"github.com/pxtools/px/pkg/env"
	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
	"github.com/pxtools/px/pkg/planner"
	"github.com/pxtools/px/pkg/profile"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
	"github.com/pxtools/px/pkg/runtimeregistry"
	"github.com/pxtools/px/pkg/sandbox"
	"github.com/pxtools/px/pkg/wheelcache"
)

// projectState mirrors the `current_env` shape env.writeProjectState
// persists to .px/state.json: the one on-disk record a run needs to decide
// whether its materialized environment is already current.
type projectState struct {
	CurrentEnv struct {
		ID           string `json:"id"`
		SitePackages string `json:"site_packages"`
		EnvPath      string `json:"env_path"`
		ProfileOID   string `json:"profile_oid"`
		Python       struct {
			Path    string `json:"path"`
			Version string `json:"version"`
		} `json:"python"`
		Platform string `json:"platform"`
	} `json:"current_env"`
	Runtime runtimeregistry.Descriptor `json:"runtime"`
}

func readProjectState(projectRoot string) (projectState, bool) {
	bb, err := os.ReadFile(filepath.Join(projectRoot, ".px", "state.json"))
	if err != nil {
		return projectState{}, false
	}
	var s projectState
	if json.Unmarshal(bb, &s) != nil {
		return projectState{}, false
	}
	return s, true
}

// buildPlanRequest assembles a planner.Request from the project's current
// on-disk state, the invoking command, and the run-time flags.
func buildPlanRequest(cmd planner.Command, target string, args []string, m manifest.Manifest, lockPath string, strict, sandbox bool, atRef, cwd string) (planner.Request, lockfile.Lockfile, bool) {
	req := planner.Request{
		Command:       cmd,
		Target:        target,
		Args:          args,
		Strict:        strict || os.Getenv("CI") == "1",
		Sandbox:       sandbox,
		AtRef:         atRef,
		ProjectRoot:   m.Root,
		InvocationCwd: cwd,
		TTY:           isTerminal(os.Stdout),
	}

	lock, err := lockfile.Load(lockPath)
	req.HasLock = err == nil
	if req.HasLock {
		snap := manifest.Snapshot(m)
		req.ManifestDrifted = snap.ManifestFingerprint != lock.Metadata.ManifestFingerprint
	}

	if st, ok := readProjectState(m.Root); ok {
		req.EnvDrifted = req.HasLock && st.CurrentEnv.ProfileOID != "" && lock.Metadata.LockID != "" &&
			st.CurrentEnv.ID != lock.Metadata.LockID
		req.WouldRepairEnv = req.EnvDrifted
	} else {
		req.WouldRepairEnv = true
	}

	return req, lock, req.HasLock
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// runExecutionPlan plans and then carries out one run/test/tool invocation,
// dispatching between the CAS-native executor (C8) and a materialized
// environment (C7) per the plan's engine mode (§4.9).
func runExecutionPlan(ctx context.Context, cctx *cmdctx.Context, flags *globalFlags, m manifest.Manifest, req planner.Request, lock lockfile.Lockfile) error {
	store, err := openStore(ctx, cctx)
	if err != nil {
		return fail(flags, err)
	}
	defer store.Close()

	registry := runtimeregistry.New(store, runtimeregistry.ExecProbe{})
	interpreter := cctx.Config.RuntimePython
	if interpreter == "" {
		interpreter = "python3"
	}
	entry, err := registry.Explicit(ctx, interpreter)
	if err != nil {
		return fail(flags, err)
	}

	plan, err := planner.Plan(req, entry.Descriptor.Version, lockProfileOID(m.Root), nil)
	if err != nil {
		return fail(flags, err)
	}

	if cctx.Trace {
		fmt.Fprintf(os.Stderr, "plan: engine=%s target=%s(%v) wd=%s\n",
			plan.Engine, plan.TargetResolution.Kind, plan.TargetResolution.Argv, plan.WorkingDir)
	}

	builder := profile.New(store)
	profileManifest, profileOID, err := loadOrRebuildProfile(ctx, store, builder, entry, lock)
	if err != nil {
		return fail(flags, err)
	}

	sitePackages := func(oid string) (string, error) {
		return store.MaterializedPath(ctx, cas.KindPkgBuild, oid)
	}

	switch plan.Engine {
	case planner.EngineCASNative:
		return runCASNative(ctx, cctx, flags, plan, profileManifest, profileOID, entry.Descriptor, sitePackages)
	default:
		return runMaterialized(ctx, cctx, flags, m, plan, lock, profileManifest, profileOID, entry.Descriptor, sitePackages)
	}
}

func lockProfileOID(projectRoot string) string {
	if st, ok := readProjectState(projectRoot); ok {
		return st.CurrentEnv.ProfileOID
	}
	return ""
}

// loadOrRebuildProfile materializes the runtime's pkg-builds for every
// locked dependency and assembles the profile manifest, binding it to the
// runtime it was built for. The resolve/fetch stages (C4/C2) are not
// re-run here: a locked dependency's artifact is already pinned, so this
// is pure unpack-and-assemble work against the store.
func loadOrRebuildProfile(ctx context.Context, store *cas.Store, b *profile.Builder, entry runtimeregistry.Entry, lock lockfile.Lockfile) (profile.Manifest, string, error) {
	var deps []profile.DependencyInput
	for _, d := range lock.Dependencies {
		if d.Artifact == nil {
			continue
		}
		deps = append(deps, profile.DependencyInput{
			Name:   d.Name,
			SHA256: d.Artifact.SHA256,
			Artifact: wheelcache.CachedArtifact{
				WheelPath: d.Artifact.CachedPath,
				DistPath:  d.Artifact.CachedPath + ".dist",
				Size:      d.Artifact.Size,
			},
		})
	}
	return b.Build(ctx, entry.OID, deps, nil)
}

func runCASNative(ctx context.Context, cctx *cmdctx.Context, flags *globalFlags, plan planner.ExecutionPlan, pm profile.Manifest, profileOID string, rt runtimeregistry.Descriptor, sitePackages func(string) (string, error)) error {
	site, err := casnative.EnsureSite(casnative.SiteRequest{
		CacheDir:          filepath.Join(cctx.Config.CachePath, "sites"),
		Profile:           pm,
		ProfileOID:        profileOID,
		Runtime:           rt,
		SitePackagesPaths: sitePackages,
	})
	if err != nil {
		return fail(flags, err)
	}

	argv := plan.TargetResolution.Argv
	if len(argv) == 0 {
		return fail(flags, fmt.Errorf("no target resolved to run"))
	}

	cmd := cctx.Spawner.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = plan.WorkingDir
	cmd.Env = append(os.Environ(), site.Env()...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return runAndTranslateExit(cmd, flags)
}

func runMaterialized(ctx context.Context, cctx *cmdctx.Context, flags *globalFlags, m manifest.Manifest, plan planner.ExecutionPlan, lock lockfile.Lockfile, pm profile.Manifest, profileOID string, rt runtimeregistry.Descriptor, sitePackages func(string) (string, error)) error {
	envRoot := filepath.Join(cctx.Config.EnvsPath, profileOID)
	mat := env.New(sitePackages)

	if _, err := os.Stat(filepath.Join(envRoot, "pyvenv.cfg")); err != nil {
		req := env.Request{
			EnvRoot:     envRoot,
			Profile:     pm,
			ProfileOID:  profileOID,
			Runtime:     rt,
			ProjectName: m.Name,
			ProjectRoot: m.Root,
			NoEnsurePip: cctx.Config.NoEnsurePip,
		}
		if err := mat.Materialize(ctx, req); err != nil {
			return fail(flags, err)
		}
		if err := mat.WriteState(req); err != nil {
			return fail(flags, err)
		}
	}

	argv := plan.TargetResolution.Argv
	if len(argv) == 0 {
		return fail(flags, fmt.Errorf("no target resolved to run"))
	}

	if plan.Provenance.Sandbox {
		return runSandboxed(ctx, cctx, flags, m, plan, lock, profileOID, envRoot, argv)
	}

	binDir := filepath.Join(envRoot, "bin")
	cmd := cctx.Spawner.CommandContext(ctx, filepath.Join(binDir, filepath.Base(argv[0])), argv[1:]...)
	cmd.Dir = plan.WorkingDir
	cmd.Env = append(os.Environ(), "VIRTUAL_ENV="+envRoot, "PATH="+binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return runAndTranslateExit(cmd, flags)
}

// runSandboxed packs (or reuses) an OCI image around the already-
// materialized environment and the project tree, then launches the target
// inside a container via the docker engine API, rather than exec'ing the
// interpreter directly on the host.
func runSandboxed(ctx context.Context, cctx *cmdctx.Context, flags *globalFlags, m manifest.Manifest, plan planner.ExecutionPlan, lock lockfile.Lockfile, profileOID, envRoot string, argv []string) error {
	lockBytes, err := lockfile.Render(lock)
	if err != nil {
		return fail(flags, err)
	}

	storeRoot := cctx.Config.SandboxStore
	if storeRoot == "" {
		storeRoot = filepath.Join(cctx.Config.CachePath, "sandboxes")
	}
	imgStore, err := sandbox.NewImageStore(storeRoot)
	if err != nil {
		return fail(flags, err)
	}

	baseImage := m.Px.SandboxBase
	if baseImage == "" {
		baseImage = "python:3-slim"
	}

	packer := sandbox.NewPacker(imgStore, sandbox.RemotePuller{})
	img, err := packer.Pack(sandbox.BuildRequest{
		Spec: sandbox.Spec{
			ProfileOID:  profileOID,
			LockContent: lockBytes,
		},
		BaseImageRef: baseImage,
		SystemDeps:   m.Px.SystemDeps,
		Environment: sandbox.EnvironmentInputs{
			EnvDir: envRoot,
		},
		App: sandbox.AppInputs{
			ProjectRoot: m.Root,
		},
	})
	if err != nil {
		return fail(flags, err)
	}

	cli, err := sandbox.NewDockerClient()
	if err != nil {
		return fail(flags, &pxerr.UserError{Reason: pxerr.ReasonSandboxBackendMissing, Cause: err})
	}
	runner := sandbox.NewRunner(cli)

	stdio := sandbox.StdioPassthrough
	if !isTerminal(os.Stdout) {
		stdio = sandbox.StdioStreaming
	}

	exitCode, err := runner.Run(ctx, sandbox.RunRequest{
		Image:       img,
		Argv:        argv,
		Env:         os.Environ(),
		ProjectRoot: m.Root,
		EnvDir:      envRoot,
		Stdio:       stdio,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	})
	if err != nil {
		return fail(flags, err)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return succeed(flags, "", nil)
}

func runAndTranslateExit(cmd interface{ Run() error }, flags *globalFlags) error {
	if err := cmd.Run(); err != nil {
		if ee, ok := asExitError(err); ok {
			os.Exit(ee)
		}
		return fail(flags, err)
	}
	return succeed(flags, "", nil)
}

func asExitError(err error) (int, bool) {
	type exitCoder interface{ ExitCode() int }
	if ec, ok := err.(exitCoder); ok {
		return ec.ExitCode(), true
	}
	return 0, false
}
