package env

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ensurePip makes pip and setuptools importable from within the env by
// invoking the interpreter's bundled ensurepip module (§4.7 step 7). A
// fuller implementation would additionally pin setuptools via a vendored
// wheel; this invokes the stdlib module directly, matching what a bare
// `python -m venv` does.
func ensurePip(ctx context.Context, pythonPath string) error {
	cmd := exec.CommandContext(ctx, pythonPath, "-E", "-m", "ensurepip", "--upgrade", "--default-pip")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ensurepip: %w: %s", err, stderr.String())
	}
	return nil
}
