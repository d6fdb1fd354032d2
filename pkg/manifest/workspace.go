package manifest

import (
	"os"
	"path/filepath"
)

// ResolveMember locates a workspace member by name and loads its own
// manifest (workspace ownership, spec.md §4.5/§4.11). The loaded
// [project].name is not compared with the declared member name.
func (m Manifest) ResolveMember(name string) (Manifest, error) {
	for _, wm := range m.WorkspaceMembers {
		if wm.Name != name {
			continue
		}
		dir := filepath.Join(m.Root, wm.Path)
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
			return Manifest{}, &ErrWorkspaceMemberNotFound{Name: name}
		}
		return Load(dir)
	}
	return Manifest{}, &ErrWorkspaceMemberNotFound{Name: name}
}

// ErrWorkspaceMemberNotFound indicates a workspace member name does not
// resolve to a declared, on-disk member.
type ErrWorkspaceMemberNotFound struct {
	Name string
}

func (e *ErrWorkspaceMemberNotFound) Error() string {
	return "workspace member not found: " + e.Name
}
