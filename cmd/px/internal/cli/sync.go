package cli

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pxtools/px/pkg/cmdctx"
	"github.com/pxtools/px/pkg/lockfile"
	"github.com/pxtools/px/pkg/manifest"
	"github.com/pxtools/px/pkg/resolver"
	"github.com/pxtools/px/pkg/runtimeregistry"
	"github.com/pxtools/px/pkg/wheelcache"
)

// newSyncCmd implements `px sync`: run the resolver gateway (C4) over the
// manifest's declared requirements, fetch every resolved artifact into the
// wheel cache (C2), and render a fresh lockfile (C5).
func newSyncCmd(flags *globalFlags) *cobra.Command {
	var member string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Resolve dependencies and (re)write the project's lockfile",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			cctx, err := newContext(flags)
			if err != nil {
				return fail(flags, err)
			}
			cwd, err := os.Getwd()
			if err != nil {
				return fail(flags, err)
			}
			m, err := loadProject(cwd, member)
			if err != nil {
				return fail(flags, err)
			}

			if err := syncProject(c.Context(), cctx, m); err != nil {
				return fail(flags, err)
			}
			return succeed(flags, "wrote "+m.LockPath(), nil)
		},
	}

	cmd.Flags().StringVar(&member, "member", "", "workspace member to sync")
	return cmd
}

func syncProject(ctx context.Context, cctx *cmdctx.Context, m manifest.Manifest) error {
	interpreter := cctx.Config.RuntimePython
	if interpreter == "" {
		interpreter = "python3"
	}
	probed, err := runtimeregistry.ExecProbe{}.Probe(ctx, interpreter)
	if err != nil {
		return err
	}

	reqs := make([]resolver.Requirement, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		reqs = append(reqs, resolver.Requirement{Spec: d.Spec, Group: d.Group})
	}

	members := map[string]string{}
	for _, wm := range m.WorkspaceMembers {
		members[resolver.NormalizeName(wm.Name)] = wm.Path
	}

	gw := resolver.New(pipResolverEngine{InterpreterPath: probed.Path})
	resolved, err := gw.Resolve(ctx, resolver.ResolveRequest{
		Requirements: reqs,
		MarkerEnv: resolver.MarkerEnvironment{
			"python_version": probed.Version,
			"sys_platform":   probed.PlatformTag,
			"implementation": probed.Implementation,
		},
		IndexURLs:        m.Px.Index,
		CacheDir:         cctx.Config.CachePath,
		InterpreterPath:  probed.Path,
		WorkspaceMembers: members,
	})
	if err != nil {
		return err
	}

	cache := wheelcache.New(cctx.Config.CachePath, cctx.HTTPClient, httpUnpacker{})
	cache.Quiet = !isTerminal(os.Stdout)
	deps := make([]lockfile.Dependency, 0, len(resolved))
	for _, r := range resolved {
		dep := lockfile.Dependency{
			Name:      r.NormalizedName,
			Specifier: r.Specifier,
			Extras:    r.Extras,
			Marker:    r.Marker,
			Direct:    r.Direct,
			Requires:  r.Requires,
			Source:    r.Source,
		}
		if r.Artifact != nil && !r.Artifact.IsDirectURL {
			cached, err := cache.Fetch(ctx, wheelcache.Spec{
				Name:     r.Name,
				Version:  r.Version,
				Filename: r.Artifact.Filename,
				URL:      r.Artifact.URL,
				SHA256:   r.Artifact.SHA256,
			})
			if err != nil {
				return err
			}
			dep.Artifact = &lockfile.Artifact{
				Filename:   r.Artifact.Filename,
				URL:        r.Artifact.URL,
				SHA256:     r.Artifact.SHA256,
				Size:       cached.Size,
				CachedPath: cached.WheelPath,
			}
		}
		deps = append(deps, dep)
	}

	snap := manifest.Snapshot(m)
	rendered := lockfile.Lockfile{
		Version: 1,
		Metadata: lockfile.Metadata{
			PxVersion:           version,
			Mode:                lockfile.ModeP0Pinned,
			ManifestFingerprint: snap.ManifestFingerprint,
		},
		Project:      lockfile.Project{Name: m.Name},
		Python:       lockfile.Python{Requirement: m.PythonRequirement},
		Dependencies: deps,
	}
	rendered.Metadata.LockID = lockfile.ComputeLockID(snap.ManifestFingerprint, rendered.Dependencies)

	if m.IsWorkspace() {
		ws := &lockfile.Workspace{}
		for _, wm := range m.WorkspaceMembers {
			ws.Members = append(ws.Members, lockfile.WorkspaceMemberLock{Name: wm.Name, Path: wm.Path})
		}
		rendered.Workspace = ws
	}

	return lockfile.Write(m.LockPath(), rendered)
}

// httpUnpacker implements wheelcache.Unpacker by extracting the wheel (a
// zip archive) into destDir; grounded on pkg/tar.Extract's path-escape
// guard, applied to the zip format wheels actually use.
type httpUnpacker struct{}

func (httpUnpacker) Unpack(ctx context.Context, wheelPath, destDir string) error {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if strings.Contains(f.Name, "..") {
			return fmt.Errorf("wheel entry escapes dest dir: %s", f.Name)
		}
		target := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
