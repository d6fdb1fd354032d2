package sandbox

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// StdioMode is the invocation's I/O shape, translated into the backend's
// equivalent container attach options.
type StdioMode string

const (
	StdioCapture    StdioMode = "capture"
	StdioStreaming  StdioMode = "streaming"
	StdioPassthrough StdioMode = "passthrough"
	StdioWithStdin  StdioMode = "with_stdin"
)

// RunRequest describes one container invocation of a packed sandbox image.
type RunRequest struct {
	Image        Image
	Argv         []string
	Env          []string
	ProjectRoot  string // bind-mounted onto /app
	EnvDir       string // bind-mounted onto /px/env
	Capabilities CapabilitySet
	Stdio        StdioMode
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
}

// Runner wraps process launch in a container invocation via the docker
// engine API, grounded on docker/docker_client.go's client.NewClientWithOpts
// negotiation idiom.
type Runner struct {
	cli client.CommonAPIClient
}

func NewRunner(cli client.CommonAPIClient) *Runner {
	return &Runner{cli: cli}
}

// Run starts req.Image with req.Argv and req.Env passed through unchanged
// and waits for it to exit, translating Stdio into the backend's attach
// semantics.
func (r *Runner) Run(ctx context.Context, req RunRequest) (exitCode int, err error) {
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: req.ProjectRoot, Target: "/app"},
		{Type: mount.TypeBind, Source: req.EnvDir, Target: "/px/env"},
	}

	hostCfg := &container.HostConfig{
		Mounts:     mounts,
		CapAdd:     capAddFor(req.Capabilities),
		AutoRemove: true,
	}
	containerCfg := &container.Config{
		Image:        req.Image.SandboxID,
		Cmd:          req.Argv,
		Env:          req.Env,
		WorkingDir:   "/app",
		Tty:          req.Stdio == StdioPassthrough,
		AttachStdin:  req.Stdio == StdioWithStdin,
		AttachStdout: true,
		AttachStderr: true,
		OpenStdin:    req.Stdio == StdioWithStdin,
	}

	name := "px-sbx-" + uuid.NewString()
	created, err := r.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return 0, &pxerr.UserError{Reason: pxerr.ReasonSandboxBackendMissing, Cause: err}
	}

	if err := r.attachAndRun(ctx, created.ID, req); err != nil {
		return 0, err
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, &pxerr.UserError{Reason: pxerr.ReasonSandboxBackendMissing, Cause: err}
		}
	case status := <-statusCh:
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return 0, nil
}

func (r *Runner) attachAndRun(ctx context.Context, containerID string, req RunRequest) error {
	attachOpts := container.AttachOptions{
		Stream: true,
		Stdin:  req.Stdio == StdioWithStdin,
		Stdout: true,
		Stderr: true,
	}
	resp, err := r.cli.ContainerAttach(ctx, containerID, attachOpts)
	if err != nil {
		return &pxerr.UserError{Reason: pxerr.ReasonSandboxBackendMissing, Cause: err}
	}
	defer resp.Close()

	if req.Stdio == StdioWithStdin && req.Stdin != nil {
		go io.Copy(resp.Conn, req.Stdin)
	}
	go func() {
		if req.Stdout != nil {
			io.Copy(req.Stdout, resp.Reader)
		}
	}()

	return r.cli.ContainerStart(ctx, containerID, container.StartOptions{})
}

func capAddFor(caps CapabilitySet) []string {
	out := make([]string, len(caps))
	copy(out, caps)
	return out
}
