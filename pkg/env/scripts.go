package env

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pxtools/px/pkg/runtimeregistry"
)

// consoleScriptTemplate is a minimal PEP 517-style shim: exec the profile's
// python with a one-line loader that imports module:attr and calls it,
// mirroring what `pip install` generates but without a build step.
const consoleScriptTemplate = `#!%s
import sys
from %s import %s as _entry
if __name__ == "__main__":
    sys.argv[0] = %q
    sys.exit(_entry())
`

// generateConsoleScripts writes one shim per declared entry point into
// binDir (§4.7 step 5). GUI scripts are written the same way; platform-
// specific windowed dispatch is left to the external container/shell.
func generateConsoleScripts(binDir string, rt runtimeregistry.Descriptor, entryPoints map[string][]EntryPoint) error {
	pythonPath := filepath.Join(binDir, "python")
	seen := map[string]bool{}
	for _, eps := range entryPoints {
		for _, ep := range eps {
			if seen[ep.Name] {
				// last insertion wins (S4 tie-break rule): overwrite.
			}
			seen[ep.Name] = true
			module, attr := ep.Module, ep.Attr
			content := fmt.Sprintf(consoleScriptTemplate, pythonPath, module, attr, ep.Name)
			path := filepath.Join(binDir, ep.Name)
			if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
				return err
			}
			if runtime.GOOS == "windows" {
				continue
			}
		}
	}
	return nil
}
