package cas

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"

	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// Put writes the bytes read from r into the store as an object of the given
// kind, returning its oid. It follows the writer protocol of §4.1: stream to
// a temp file under tmp/, hash while streaming, then atomically rename into
// objects/<shard>/<oid>. If an object with that oid already exists, the temp
// file is discarded and Put is a no-op aside from touching last_accessed —
// writes are idempotent (I2).
func (s *Store) Put(ctx context.Context, kind Kind, r io.Reader) (oid string, size int64, err error) {
	tmp, err := os.CreateTemp(s.tmpDir(), "obj-*")
	if err != nil {
		return "", 0, err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	oid, size, err = HashReader(io.TeeReader(r, tmp))
	closeErr := tmp.Close()
	if err != nil {
		return "", 0, err
	}
	if closeErr != nil {
		return "", 0, closeErr
	}

	dest := s.objectPath(oid)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, err
	}

	if _, err := os.Stat(dest); err == nil {
		// already present: idempotent write, just bump last_accessed.
		if err := s.touch(ctx, oid); err != nil {
			return "", 0, err
		}
		return oid, size, nil
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return "", 0, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects(oid, kind, size, created_at, last_accessed) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(oid) DO UPDATE SET last_accessed = excluded.last_accessed`,
		oid, string(kind), size, nowUnix(), nowUnix())
	if err != nil {
		return "", 0, err
	}
	return oid, size, nil
}

// PutDir materializes a directory tree (a pkg-build, runtime, or
// repo-snapshot root) under the kind's materialized directory, keyed by the
// content-addressed oid the caller has already computed over its contents.
// The final placement is atomic: assembled under a ".partial" sibling, then
// renamed into place, matching the directory-swap idiom used everywhere else
// px writes a tree to disk (§4.6).
func (s *Store) PutDir(ctx context.Context, kind Kind, oid string, assemble func(dir string) error) error {
	base := s.materializedDir(kind)
	if base == "" {
		return errors.New("cas: kind has no materialized directory: " + string(kind))
	}
	final := filepath.Join(base, oid)
	if _, err := os.Stat(final); err == nil {
		return s.touch(ctx, oid)
	}

	partial := final + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return err
	}
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return err
	}
	if err := assemble(partial); err != nil {
		os.RemoveAll(partial)
		return err
	}
	if err := os.Rename(partial, final); err != nil {
		os.RemoveAll(partial)
		return err
	}

	size, err := dirSize(final)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects(oid, kind, size, created_at, last_accessed) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(oid) DO UPDATE SET last_accessed = excluded.last_accessed`,
		oid, string(kind), size, nowUnix(), nowUnix())
	return err
}

// Get opens the raw bytes of an object for reading, verifying the index
// knows about it. It does not re-hash the bytes against the claimed oid.
func (s *Store) Get(ctx context.Context, oid string) (io.ReadCloser, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE oid = ?`, oid).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &pxerr.CASMissingObject{OID: oid}
	}
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.objectPath(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &pxerr.CASObjectCorrupt{OID: oid, Expected: oid, Actual: "<missing file>"}
		}
		return nil, err
	}
	if err := s.touch(ctx, oid); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// MaterializedPath returns the on-disk directory for a materialized
// (pkg-build/runtime/repo-snapshot) object, verifying it is tracked in the
// index first.
func (s *Store) MaterializedPath(ctx context.Context, kind Kind, oid string) (string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE oid = ? AND kind = ?`, oid, string(kind)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &pxerr.CASMissingObject{OID: oid}
	}
	if err != nil {
		return "", err
	}
	dir := filepath.Join(s.materializedDir(kind), oid)
	if _, err := os.Stat(dir); err != nil {
		return "", &pxerr.CASObjectCorrupt{OID: oid, Expected: oid, Actual: "<missing directory>"}
	}
	if err := s.touch(ctx, oid); err != nil {
		return "", err
	}
	return dir, nil
}

// Has reports whether oid is present in the index, without touching
// last_accessed.
func (s *Store) Has(ctx context.Context, oid string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE oid = ?`, oid).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) touch(ctx context.Context, oid string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE objects SET last_accessed = ? WHERE oid = ?`, nowUnix(), oid)
	return err
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
