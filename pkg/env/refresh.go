package env

import (
	"context"
	"os"
)

// Refresh assembles a new environment under `<req.EnvRoot>.partial`, then
// swaps it into place atomically: the previous env becomes
// `<req.EnvRoot>.backup`, and `.partial` is renamed to the canonical path.
// On any failure before the final rename, the previous env is left intact
// (§4.7 "Refresh correctness", property 9: atomic env swap).
func (m *Materializer) Refresh(ctx context.Context, req Request) error {
	canonical := req.EnvRoot
	partial := canonical + ".partial"
	backup := canonical + ".backup"

	if err := os.RemoveAll(partial); err != nil {
		return err
	}

	partialReq := req
	partialReq.EnvRoot = partial
	if err := m.Materialize(ctx, partialReq); err != nil {
		os.RemoveAll(partial)
		return err
	}

	hadExisting := false
	if _, err := os.Stat(canonical); err == nil {
		hadExisting = true
		if err := os.RemoveAll(backup); err != nil {
			return err
		}
		if err := os.Rename(canonical, backup); err != nil {
			return err
		}
	}

	if err := os.Rename(partial, canonical); err != nil {
		if hadExisting {
			os.Rename(backup, canonical) // best-effort restore
		}
		return err
	}

	if hadExisting {
		if err := os.RemoveAll(backup); err != nil {
			return err
		}
	}
	return m.WriteState(req)
}
