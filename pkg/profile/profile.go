// Package profile implements the Profile Builder (C6): materializing
// per-package build roots and assembling the immutable `profile` object
// that fixes package order, runtime, and environment overlay.
//
// Grounded on pkg/oci.Builder's staged pipeline (one stage per concern,
// each retried/idempotent) generalized from "assemble one OCI image" to
// "assemble one profile manifest plus its pkg-build roots".
package profile

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pxtools/px/pkg/cas"
	"github.com/pxtools/px/pkg/wheelcache"
)

// PackageRef is one `packages` entry of a profile manifest (§3).
type PackageRef struct {
	Name        string `json:"name"`
	PkgBuildOID string `json:"pkg_build_oid"`
}

// Manifest is the canonical, hashable shape of a `profile` object.
type Manifest struct {
	RuntimeOID    string       `json:"runtime_oid"`
	Packages      []PackageRef `json:"packages"`
	SysPathOrder  []string     `json:"sys_path_order"`
	EnvVars       map[string]string `json:"env_vars"`
}

// OID is the content address of the manifest's canonical JSON (§4.6).
func (m Manifest) OID() string {
	b := canonicalJSON(m)
	return cas.HashBytes(b)
}

func canonicalJSON(m Manifest) []byte {
	pkgs := append([]PackageRef(nil), m.Packages...)
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].PkgBuildOID < pkgs[j].PkgBuildOID })
	norm := Manifest{
		RuntimeOID:   m.RuntimeOID,
		Packages:     pkgs,
		SysPathOrder: append([]string(nil), m.SysPathOrder...),
		EnvVars:      m.EnvVars,
	}
	b, _ := json.Marshal(norm)
	return b
}

// DependencyInput is one resolved, fetched dependency ready to be unpacked
// into a pkg-build.
type DependencyInput struct {
	Name     string
	Artifact wheelcache.CachedArtifact
	SHA256   string
}

// Builder assembles profiles against a store.
type Builder struct {
	store *cas.Store
}

func New(store *cas.Store) *Builder {
	return &Builder{store: store}
}

// EnsurePkgBuild unpacks a fetched wheel's dist directory into a
// deterministic pkg-build (RECORD canonicalized, bytecode excluded, mtimes
// zeroed), tars it for content addressing, and stores both the tar object
// and the materialized directory (§4.6 step 2).
func (b *Builder) EnsurePkgBuild(ctx context.Context, dep DependencyInput) (string, error) {
	tarBytes, err := canonicalTar(dep.Artifact.DistPath)
	if err != nil {
		return "", fmt.Errorf("canonicalizing pkg-build for %s: %w", dep.Name, err)
	}
	oid := cas.HashBytes(tarBytes)

	if _, _, err := b.store.Put(ctx, cas.KindPkgBuild, bytes.NewReader(tarBytes)); err != nil {
		return "", err
	}
	err = b.store.PutDir(ctx, cas.KindPkgBuild, oid, func(dir string) error {
		return extractTar(bytes.NewReader(tarBytes), dir)
	})
	if err != nil {
		return "", err
	}
	return oid, nil
}

// Build assembles a profile manifest from a runtime and an ordered set of
// dependencies, returning the manifest and its oid. It does not take ownership
// refs; callers do that (BindOwner) once the caller's transaction is ready to
// commit (O1: a profile's refs are only visible after all constituents are
// committed).
func (b *Builder) Build(ctx context.Context, runtimeOID string, deps []DependencyInput, overlay map[string]string) (Manifest, string, error) {
	m := Manifest{RuntimeOID: runtimeOID, EnvVars: overlay}
	for _, dep := range deps {
		oid, err := b.EnsurePkgBuild(ctx, dep)
		if err != nil {
			return Manifest{}, "", err
		}
		m.Packages = append(m.Packages, PackageRef{Name: dep.Name, PkgBuildOID: oid})
		m.SysPathOrder = append(m.SysPathOrder, oid)
	}

	oid := m.OID()
	if _, _, err := b.store.Put(ctx, cas.KindProfile, bytes.NewReader(canonicalJSON(m))); err != nil {
		return Manifest{}, "", err
	}
	return m, oid, nil
}

// BindOwner atomically swaps an owner's profile ref: drop the old profile
// ref (if any), add the new one, and add/retain refs from the profile to
// its runtime and pkg-builds (§4.6). It does not GC the old profile; that
// is a separate, explicit pass.
func (b *Builder) BindOwner(ctx context.Context, ownerType cas.OwnerType, ownerID string, oldProfileOID string, newProfileOID string, m Manifest) error {
	if oldProfileOID != "" && oldProfileOID != newProfileOID {
		if err := b.store.RemoveRef(ctx, ownerType, ownerID, oldProfileOID); err != nil {
			return err
		}
	}
	if err := b.store.AddRef(ctx, ownerType, ownerID, newProfileOID); err != nil {
		return err
	}
	if err := b.store.AddRef(ctx, cas.OwnerProfile, newProfileOID, m.RuntimeOID); err != nil {
		return err
	}
	for _, pkg := range m.Packages {
		if err := b.store.AddRef(ctx, cas.OwnerProfile, newProfileOID, pkg.PkgBuildOID); err != nil {
			return err
		}
	}
	return nil
}

// HasConflictingInstall is the first-class predicate the open question of
// spec.md §9 asks for: it reports whether a real (non-px-managed) install of
// the project's own package already exists in an environment's
// site-packages, in which case the editable stub materialization step must
// be skipped rather than overwritten.
func HasConflictingInstall(sitePackagesDir, distInfoPrefix string) (bool, error) {
	entries, err := os.ReadDir(sitePackagesDir)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) < len(distInfoPrefix) || name[:len(distInfoPrefix)] != distInfoPrefix {
			continue
		}
		markerPath := filepath.Join(sitePackagesDir, name, "PX-EDITABLE")
		if _, err := os.Stat(markerPath); err != nil {
			// a .dist-info exists but wasn't written by px: a real install.
			return true, nil
		}
	}
	return false, nil
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
