package env

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteGeneratedVersion writes a `_version.py`-style module containing
// `__version__` for a dynamic-version project (§4.7 "Version file
// generation"). It prefers the project's writable working tree; if that
// path is not writable (e.g. executing from a read-only git-ref snapshot)
// it falls back to a shadow location under the env root that the build
// backend can still discover via sys.path.
func WriteGeneratedVersion(projectRoot, packageName, version, shadowDir string) (string, error) {
	rel := filepath.Join(packageName, "_version.py")
	content := fmt.Sprintf("# generated by px, do not edit\n__version__ = %q\n", version)

	primary := filepath.Join(projectRoot, rel)
	if err := os.MkdirAll(filepath.Dir(primary), 0o755); err == nil {
		if err := os.WriteFile(primary, []byte(content), 0o644); err == nil {
			return primary, nil
		}
	}

	shadow := filepath.Join(shadowDir, rel)
	if err := os.MkdirAll(filepath.Dir(shadow), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(shadow, []byte(content), 0o644); err != nil {
		return "", err
	}
	return shadow, nil
}
