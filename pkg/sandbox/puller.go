package sandbox

import (
	"fmt"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// RemotePuller implements BaseImagePuller against a real registry, grounded
// on pkg/oci.pullBase's parse-reference-then-remote.Get idiom.
type RemotePuller struct{}

func (RemotePuller) Pull(ref string) (v1.Layer, string, error) {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return nil, "", fmt.Errorf("parsing base image ref %s: %w", ref, err)
	}
	desc, err := remote.Get(parsed)
	if err != nil {
		return nil, "", fmt.Errorf("fetching base image %s: %w", ref, err)
	}
	image, err := desc.Image()
	if err != nil {
		return nil, "", err
	}
	layers, err := image.Layers()
	if err != nil {
		return nil, "", err
	}
	if len(layers) == 0 {
		return nil, "", fmt.Errorf("base image %s has no layers", ref)
	}
	return layers[0], desc.Digest.String(), nil
}
