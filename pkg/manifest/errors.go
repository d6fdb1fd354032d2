package manifest

import "errors"

var (
	// ErrNameRequired mirrors fn.ErrNameRequired: a manifest with no
	// [project].name is never valid, whether freshly authored or loaded.
	ErrNameRequired = errors.New("project name required")

	// ErrNotInitialized indicates a directory has no pyproject.toml.
	ErrNotInitialized = errors.New("directory does not contain a pyproject.toml")
)
