package sandbox_test

import (
	"os"
	"strings"
	"testing"

	"github.com/pxtools/px/pkg/sandbox"
)

func TestNewDockerClientRejectsSSHHost(t *testing.T) {
	old, hadOld := os.LookupEnv("DOCKER_HOST")
	os.Setenv("DOCKER_HOST", "ssh://build-host")
	defer func() {
		if hadOld {
			os.Setenv("DOCKER_HOST", old)
		} else {
			os.Unsetenv("DOCKER_HOST")
		}
	}()

	_, err := sandbox.NewDockerClient()
	if err == nil {
		t.Fatal("expected an error for an ssh DOCKER_HOST")
	}
	if !strings.Contains(err.Error(), "ssh") {
		t.Fatalf("unexpected error: %v", err)
	}
}
