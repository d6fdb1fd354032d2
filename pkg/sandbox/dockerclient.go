package sandbox

import (
	"fmt"
	"net/url"
	"os"

	"github.com/docker/docker/client"
)

// NewDockerClient builds the docker engine client used by Runner, grounded
// on docker/docker_client.go's DOCKER_HOST negotiation idiom: an ssh://
// DOCKER_HOST is rejected with an error, and every other host (or none) goes
// through client.FromEnv with API version negotiation, which reads
// DOCKER_HOST as given. SSH-tunneled hosts and an auto-spawned podman
// service are both out of scope here; callers on those setups should export
// DOCKER_HOST pointing at an already-running engine.
func NewDockerClient() (client.CommonAPIClient, error) {
	dockerHost := os.Getenv("DOCKER_HOST")

	if dockerHost != "" {
		parsed, err := url.Parse(dockerHost)
		if err != nil {
			return nil, fmt.Errorf("parsing DOCKER_HOST %q: %w", dockerHost, err)
		}
		if parsed.Scheme == "ssh" {
			return nil, fmt.Errorf("DOCKER_HOST %q uses ssh, which sandbox execution does not support", dockerHost)
		}
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("constructing docker client: %w", err)
	}
	return cli, nil
}
