package cas

import (
	"os"
	"path/filepath"
)

// hardenPermissions makes the objects/ tree read-only when the store is
// opened (Open walks it once per call), a cheap guard against accidental in-place edits to content-addressed
// bytes. It is best-effort: permission changes can fail on filesystems that
// don't support them (some CI containers, network mounts), and the caller
// treats that as a warning, not an open failure (§4.1).
func (s *Store) hardenPermissions() error {
	return filepath.Walk(s.objectsDir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return os.Chmod(path, 0o755)
		}
		return os.Chmod(path, 0o444)
	})
}
