// Package cmdctx threads the effectful collaborators every px command
// needs — a spawner for child interpreter processes, an HTTP client for
// C2's fetches, a clock, and the global config — through a single
// injectable context, the same way client.Client in the teacher's root
// package collects Builder/Pusher/Deployer/etc. behind narrow interfaces
// and a functional-options constructor.
package cmdctx

import (
	"context"
	"net/http"
	"os/exec"
	"time"

	"github.com/pxtools/px/pkg/pxconfig"
)

// Spawner launches child processes. The default implementation shells out
// via os/exec; tests substitute a fake that records invocations.
type Spawner interface {
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Clock is injected so tests can control timestamps without touching wall
// clock time.
type Clock interface {
	Now() time.Time
}

// Context bundles the effectful collaborators a command needs.
type Context struct {
	Config     pxconfig.Config
	Spawner    Spawner
	HTTPClient *http.Client
	Clock      Clock

	Quiet   bool
	Verbose int // 0, 1, 2
	Trace   bool
	JSON    bool
	NoColor bool
}

// Option configures a Context, mirroring client.Option's functional-options
// shape.
type Option func(*Context)

// New builds a Context from cfg plus any options, defaulting to the real
// OS process spawner, a real HTTP client, and the wall clock.
func New(cfg pxconfig.Config, opts ...Option) *Context {
	c := &Context{
		Config:     cfg,
		Spawner:    osSpawner{},
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Clock:      wallClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithSpawner(s Spawner) Option { return func(c *Context) { c.Spawner = s } }

func WithHTTPClient(h *http.Client) Option { return func(c *Context) { c.HTTPClient = h } }

func WithClock(clk Clock) Option { return func(c *Context) { c.Clock = clk } }

func WithQuiet(v bool) Option { return func(c *Context) { c.Quiet = v } }

func WithVerbose(level int) Option { return func(c *Context) { c.Verbose = level } }

func WithTrace(v bool) Option { return func(c *Context) { c.Trace = v } }

func WithJSON(v bool) Option { return func(c *Context) { c.JSON = v } }

func WithNoColor(v bool) Option { return func(c *Context) { c.NoColor = v } }

type osSpawner struct{}

func (osSpawner) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
