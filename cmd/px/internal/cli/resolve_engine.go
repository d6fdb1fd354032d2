package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/pxtools/px/pkg/resolver"
)

// pipResolverEngine implements resolver.Engine by shelling out to a
// `python -m pip.__main__ resolve`-shaped external resolver, the same
// pattern wheelcache.runBuildFrontend uses for the build frontend: a
// collaborator px never implements itself (spec.md §1), driven by a JSON
// request on stdin and a JSON response on stdout.
type pipResolverEngine struct {
	InterpreterPath string
}

func (e pipResolverEngine) Resolve(ctx context.Context, req resolver.ResolveRequest) ([]resolver.ResolvedSpecifier, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.InterpreterPath, "-m", "px_resolver")
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("resolver failed: %w: %s", err, stderr.String())
	}

	var resolved []resolver.ResolvedSpecifier
	if err := json.Unmarshal(stdout.Bytes(), &resolved); err != nil {
		return nil, fmt.Errorf("parsing resolver output: %w", err)
	}
	return resolved, nil
}
