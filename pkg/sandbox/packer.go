package sandbox

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"os"
	"os/exec"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/types"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// Packer builds and caches sandbox images.
type Packer struct {
	store  *ImageStore
	puller BaseImagePuller
}

func NewPacker(store *ImageStore, puller BaseImagePuller) *Packer {
	return &Packer{store: store, puller: puller}
}

// Pack builds (or reuses) the OCI image for req, returning an Image whose
// SandboxID can be handed to the runner.
func (p *Packer) Pack(req BuildRequest) (Image, error) {
	sbxID := req.Spec.ID()

	if existing, ok, err := p.store.Lookup(sbxID); err != nil {
		return Image{}, err
	} else if ok {
		return existing, nil
	}

	baseLayer, baseDigest, err := p.puller.Pull(req.BaseImageRef)
	if err != nil {
		return Image{}, &pxerr.UserError{Reason: pxerr.ReasonSandboxBackendMissing, Cause: err}
	}
	layers := []v1.Layer{baseLayer}
	descs := []v1.Descriptor{}
	baseDesc, err := describeLayer(baseLayer)
	if err != nil {
		return Image{}, err
	}
	descs = append(descs, baseDesc)

	if len(req.SystemDeps) > 0 {
		tarPath := p.store.LayerPath(sbxID, fmtLayerName(1, "system-deps"))
		desc, layer, err := buildSystemDepsLayer(tarPath, req.SystemDeps)
		if err != nil {
			return Image{}, err
		}
		descs = append(descs, desc)
		layers = append(layers, layer)
	}

	envTarPath := p.store.LayerPath(sbxID, fmtLayerName(2, "environment"))
	envDesc, envLayer, err := buildEnvironmentLayer(envTarPath, req.Environment)
	if err != nil {
		return Image{}, err
	}
	descs = append(descs, envDesc)
	layers = append(layers, envLayer)

	appTarPath := p.store.LayerPath(sbxID, fmtLayerName(3, "app"))
	appDesc, appLayer, err := buildAppLayer(appTarPath, req.App)
	if err != nil {
		return Image{}, err
	}
	descs = append(descs, appDesc)
	layers = append(layers, appLayer)

	config, err := buildConfig(layers, baseDigest)
	if err != nil {
		return Image{}, err
	}
	configDesc, err := describeConfig(config)
	if err != nil {
		return Image{}, err
	}

	manifest := v1.Manifest{
		SchemaVersion: 2,
		MediaType:     types.OCIManifestSchema1,
		Config:        configDesc,
		Layers:        descs,
	}

	img := Image{SandboxID: sbxID, Manifest: manifest, Config: config}
	if err := p.store.Save(img); err != nil {
		return Image{}, err
	}
	return img, nil
}

func describeLayer(layer v1.Layer) (v1.Descriptor, error) {
	size, err := layer.Size()
	if err != nil {
		return v1.Descriptor{}, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	digest, err := layer.Digest()
	if err != nil {
		return v1.Descriptor{}, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return v1.Descriptor{MediaType: types.OCILayer, Size: size, Digest: digest}, nil
}

func describeConfig(c v1.ConfigFile) (v1.Descriptor, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return v1.Descriptor{}, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	hash, _, err := v1.SHA256(bytes.NewReader(b))
	if err != nil {
		return v1.Descriptor{}, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return v1.Descriptor{MediaType: types.OCIConfigJSON, Digest: hash, Size: int64(len(b))}, nil
}

func buildConfig(layers []v1.Layer, baseDigest string) (v1.ConfigFile, error) {
	rootfs := v1.RootFS{Type: "layers"}
	for _, l := range layers {
		diff, err := l.DiffID()
		if err != nil {
			return v1.ConfigFile{}, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
		}
		rootfs.DiffIDs = append(rootfs.DiffIDs, diff)
	}
	return v1.ConfigFile{
		Architecture: "amd64",
		OS:           "linux",
		Config: v1.Config{
			WorkingDir: "/app",
			Entrypoint: []string{"/px/runtime/bin/python3"},
			Env: []string{
				"PATH=/px/runtime/bin:/usr/bin:/bin",
				"PYTHONHOME=/px/runtime",
				"VIRTUAL_ENV=/px/env",
			},
		},
		RootFS: rootfs,
	}, nil
}

// buildSystemDepsLayer installs deps into a scratch rootfs via the host
// package manager and packs the result, per §4.10 step 2. This is a
// best-effort, online-only step; offline hosts skip it upstream of Pack.
func buildSystemDepsLayer(tarPath string, deps []string) (v1.Descriptor, v1.Layer, error) {
	scratch, err := os.MkdirTemp("", "px-sysdeps-")
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	defer os.RemoveAll(scratch)

	args := append([]string{"install", "--no-install-recommends", "-y", "--root", scratch}, deps...)
	cmd := exec.Command("apt-get", args...)
	if err := cmd.Run(); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err,
			Message: "installing system dependencies failed: " + err.Error()}
	}

	f, err := os.Create(tarPath)
	if err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	defer f.Close()
	tw := tar.NewWriter(f)
	defer tw.Close()
	if err := addTreeFiltered(tw, scratch, "/", nil); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	if err := tw.Close(); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	if err := f.Close(); err != nil {
		return v1.Descriptor{}, nil, &pxerr.UserError{Reason: pxerr.ReasonSandboxImageBuildFailed, Cause: err}
	}
	return newLayer(tarPath)
}
