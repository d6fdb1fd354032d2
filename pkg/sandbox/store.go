package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// ImageStore is a local, content-addressed record of previously packed
// images, keyed by sbx_id, so that Pack can short-circuit identical
// invocations (§4.10: "the packer short-circuits when an image matching
// sbx_id already exists").
type ImageStore struct {
	root string // e.g. <cache>/sandboxes
}

// NewImageStore opens (creating if absent) the local sandbox image store.
func NewImageStore(root string) (*ImageStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return &ImageStore{root: root}, nil
}

func (s *ImageStore) dir(sbxID string) string {
	return filepath.Join(s.root, sbxID)
}

// Lookup returns the previously built image for sbxID, if present.
func (s *ImageStore) Lookup(sbxID string) (Image, bool, error) {
	manifestPath := filepath.Join(s.dir(sbxID), "image.json")
	b, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return Image{}, false, nil
	}
	if err != nil {
		return Image{}, false, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	var img Image
	if err := json.Unmarshal(b, &img); err != nil {
		return Image{}, false, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return img, true, nil
}

// Save records img under its sandbox id, atomically.
func (s *ImageStore) Save(img Image) error {
	dir := s.dir(img.SandboxID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	b, err := json.Marshal(img)
	if err != nil {
		return &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	tmp := filepath.Join(dir, "image.json.tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return os.Rename(tmp, filepath.Join(dir, "image.json"))
}

// LayerPath returns where a named layer tarball for sbxID is (or should
// be) written.
func (s *ImageStore) LayerPath(sbxID, name string) string {
	return filepath.Join(s.dir(sbxID), name+".tar")
}

// BaseImagePuller fetches (and caches locally) the configured base image,
// returning its root filesystem layer and digest.
type BaseImagePuller interface {
	Pull(ref string) (layer v1.Layer, digest string, err error)
}
