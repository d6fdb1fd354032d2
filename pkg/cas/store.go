// Package cas implements the content-addressed store (C1): the durable
// substrate that owns every wheel, pkg-build, runtime, profile, and
// repo-snapshot object px produces, tracks who references them, and
// garbage-collects what nothing references any more.
//
// The store's shape is grounded on pkg/oci.Builder's staged, directory-based
// build pipeline (setup/scaffold/containerize/cleanup, atomic rename into a
// canonical path) generalized from "one build" to "every object kind px
// persists", with an index on top rather than a single last-build symlink.
package cas

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Kind identifies the type of an immutable object in the store (§3).
type Kind string

const (
	KindWheelBlob    Kind = "wheel-blob"
	KindPkgBuild     Kind = "pkg-build"
	KindRuntime      Kind = "runtime"
	KindProfile      Kind = "profile"
	KindRepoSnapshot Kind = "repo-snapshot"
)

// OwnerType identifies the kind of logical holder of a ref (§3, §9).
type OwnerType string

const (
	OwnerRuntime     OwnerType = "runtime"
	OwnerProfile     OwnerType = "profile"
	OwnerProjectEnv  OwnerType = "project-env"
	OwnerWorkspaceEnv OwnerType = "workspace-env"
	OwnerToolEnv     OwnerType = "tool-env"

	// OwnerAtRefRun pins a repo-snapshot for the duration of a pending
	// at-ref execution (§4.11 step 6); not one of the steady-state owner
	// types in §3 since it has no corresponding project-state file.
	OwnerAtRefRun OwnerType = "at-ref-run"
)

// SchemaVersion is bumped whenever the index schema changes in an
// incompatible way; a store opened with a mismatched version is declared
// cas_incompatible rather than silently migrated (§4.1).
const SchemaVersion = "1"

// StoreFormatVersion versions the on-disk layout (objects/, pkg-builds/,
// etc.) independent of the index schema.
const StoreFormatVersion = "1"

// Store is a handle on one content-addressed store rooted at Root. It owns
// the sqlite index (WAL journaling, immediate writer transactions, §5) and
// the on-disk objects tree.
type Store struct {
	Root string
	db   *sql.DB

	// pxVersion is recorded in meta on first use; informational only.
	pxVersion string
}

// layout paths, relative to Root.
func (s *Store) objectsDir() string       { return filepath.Join(s.Root, "objects") }
func (s *Store) indexPath() string        { return filepath.Join(s.Root, "index.sqlite") }
func (s *Store) locksDir() string         { return filepath.Join(s.Root, "locks") }
func (s *Store) tmpDir() string           { return filepath.Join(s.Root, "tmp") }
func (s *Store) pkgBuildsDir() string     { return filepath.Join(s.Root, "pkg-builds") }
func (s *Store) runtimesDir() string      { return filepath.Join(s.Root, "runtimes") }
func (s *Store) repoSnapshotsDir() string { return filepath.Join(s.Root, "repo-snapshots") }

// materializedDir returns the directory a kind's unpacked/extracted form
// lives in, or "" if the kind has no on-disk materialized tree (wheel-blob
// and profile are stored only as their raw object bytes).
func (s *Store) materializedDir(kind Kind) string {
	switch kind {
	case KindPkgBuild:
		return s.pkgBuildsDir()
	case KindRuntime:
		return s.runtimesDir()
	case KindRepoSnapshot:
		return s.repoSnapshotsDir()
	default:
		return ""
	}
}

// objectPath returns objects/<oid[0..2]>/<oid>, the canonical location of
// an object's raw bytes (§6).
func (s *Store) objectPath(oid string) string {
	if len(oid) < 2 {
		return filepath.Join(s.objectsDir(), oid)
	}
	return filepath.Join(s.objectsDir(), oid[:2], oid)
}

// Open initializes (if absent) and opens the store rooted at root, running
// the first-use health check described in §4.1.
func Open(ctx context.Context, root, pxVersion string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "objects"), filepath.Join(root, "locks"),
		filepath.Join(root, "tmp"), filepath.Join(root, "pkg-builds"), filepath.Join(root, "runtimes"),
		filepath.Join(root, "repo-snapshots")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating store directory %s", dir)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate",
		filepath.Join(root, "index.sqlite"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening cas index")
	}
	db.SetMaxOpenConns(1) // single-connection pool: sqlite serializes writers anyway (§5)

	s := &Store{Root: root, db: db, pxVersion: pxVersion}
	if err := s.healthCheck(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.hardenPermissions(); err != nil {
		// best-effort: warn, never fail the open call (§4.1)
		fmt.Fprintf(os.Stderr, "warning: could not harden store permissions: %v\n", err)
	}
	return s, nil
}

// Close releases the index handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nowUnix() int64 { return time.Now().UTC().Unix() }
