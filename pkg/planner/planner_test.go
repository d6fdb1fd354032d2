package planner_test

import (
	"testing"

	"github.com/pxtools/px/pkg/planner"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

func baseReq() planner.Request {
	return planner.Request{
		Command:       planner.CommandRun,
		Target:        "script.py",
		ProjectRoot:   "/proj",
		InvocationCwd: "/proj",
		HasLock:       true,
	}
}

func TestPlanRequiresLock(t *testing.T) {
	req := baseReq()
	req.HasLock = false
	_, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
	if err == nil {
		t.Fatal("expected error when lockfile is missing")
	}
	ue, ok := err.(*pxerr.UserError)
	if !ok || ue.Reason != pxerr.ReasonMissingLock {
		t.Fatalf("expected ReasonMissingLock, got %+v", err)
	}
}

func TestPlanRejectsManifestDrift(t *testing.T) {
	req := baseReq()
	req.ManifestDrifted = true
	_, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
	ue, ok := err.(*pxerr.UserError)
	if !ok || ue.Reason != pxerr.ReasonLockDrift {
		t.Fatalf("expected ReasonLockDrift, got %+v", err)
	}
}

func TestPlanRejectsEnvDriftOnlyWhenStrict(t *testing.T) {
	req := baseReq()
	req.EnvDrifted = true

	plan, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
	if err != nil {
		t.Fatalf("non-strict env drift should not block: %v", err)
	}
	if plan.Engine != planner.EngineCASNative {
		t.Fatalf("expected cas_native engine, got %s", plan.Engine)
	}

	req.Strict = true
	_, err = planner.Plan(req, "3.12.1", "profile-oid", nil)
	ue, ok := err.(*pxerr.UserError)
	if !ok || ue.Reason != pxerr.ReasonEnvDrift {
		t.Fatalf("expected ReasonEnvDrift under --frozen, got %+v", err)
	}
}

func TestDecideEngineMaterializesForAtRefStrictSandboxOrMissingArtifacts(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*planner.Request)
	}{
		{"at-ref", func(r *planner.Request) { r.AtRef = "v1.0.0" }},
		{"strict", func(r *planner.Request) { r.Strict = true }},
		{"sandbox", func(r *planner.Request) { r.Sandbox = true }},
		{"missing-artifacts", func(r *planner.Request) { r.MissingArtifacts = []string{"oid-x"} }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := baseReq()
			c.mod(&req)
			plan, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
			if err != nil {
				t.Fatal(err)
			}
			if plan.Engine != planner.EngineMaterialized {
				t.Fatalf("expected materialized engine for %s, got %s", c.name, plan.Engine)
			}
		})
	}
}

func TestDecideEngineDefaultsToCASNative(t *testing.T) {
	plan, err := planner.Plan(baseReq(), "3.12.1", "profile-oid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Engine != planner.EngineCASNative {
		t.Fatalf("expected cas_native, got %s", plan.Engine)
	}
}

func TestResolveTargetPythonAlias(t *testing.T) {
	req := baseReq()
	req.Target = "python"
	req.Args = []string{"-m", "pytest"}
	plan, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.TargetResolution.Kind != planner.TargetModule {
		t.Fatalf("expected module target, got %s", plan.TargetResolution.Kind)
	}
}

func TestResolveTargetExecutableFallback(t *testing.T) {
	req := baseReq()
	req.Target = "black"
	plan, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.TargetResolution.Kind != planner.TargetExecutable {
		t.Fatalf("expected executable target, got %s", plan.TargetResolution.Kind)
	}
}

func TestWorkingDirFallsBackToProjectRootWhenCwdOutside(t *testing.T) {
	req := baseReq()
	req.InvocationCwd = "/elsewhere"
	plan, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.WorkingDir != req.ProjectRoot {
		t.Fatalf("expected working dir to fall back to project root, got %s", plan.WorkingDir)
	}
}

func TestProvenanceReflectsAtRef(t *testing.T) {
	req := baseReq()
	req.AtRef = "deadbeef"
	req.Sandbox = true
	plan, err := planner.Plan(req, "3.12.1", "profile-oid", nil)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Provenance.Source != "at-ref:deadbeef" || !plan.Provenance.Sandbox {
		t.Fatalf("unexpected provenance: %+v", plan.Provenance)
	}
}
