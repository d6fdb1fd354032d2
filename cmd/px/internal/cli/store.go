package cli

import (
	"context"

	"github.com/pxtools/px/pkg/cas"
	"github.com/pxtools/px/pkg/cmdctx"
)

// openStore is the shared entry point for every command that touches the
// content-addressed store, keeping the px version string in one place.
func openStore(ctx context.Context, c *cmdctx.Context) (*cas.Store, error) {
	return cas.Open(ctx, c.Config.StorePath, version)
}

// version is stamped at build time in real releases; the zero value is
// only ever visible to store metadata, never to a user-facing outcome.
var version = "0.1.0"
