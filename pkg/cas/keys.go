package cas

import (
	"context"
	"database/sql"
	"errors"
)

// KeyKind namespaces the keys table: each kind defines its own lookup-key
// format (§3's "content-addressed identity" keys — pkg-build cache keys,
// runtime descriptor hashes, profile identities).
type KeyKind string

const (
	KeyPkgBuild KeyKind = "pkg-build"
	KeyRuntime  KeyKind = "runtime"
	KeyProfile  KeyKind = "profile"
)

// PutKey records that lookupKey (already content-derived by the caller, e.g.
// a pkg-build cache key or a runtime descriptor hash) resolves to oid. A key
// is a many-to-one index into objects, separate from ownership refs.
func (s *Store) PutKey(ctx context.Context, kind KeyKind, lookupKey, oid string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO keys(kind, lookup_key, oid) VALUES (?, ?, ?)`,
		string(kind), lookupKey, oid)
	return err
}

// LookupKey resolves a previously stored key to its oid, reporting whether
// it was found at all.
func (s *Store) LookupKey(ctx context.Context, kind KeyKind, lookupKey string) (oid string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT oid FROM keys WHERE kind = ? AND lookup_key = ?`, string(kind), lookupKey).Scan(&oid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return oid, true, nil
}

// DeleteKey removes a lookup key, used when a pkg-build's cache key becomes
// stale (e.g. a resolved artifact hash mismatch invalidates the old build).
func (s *Store) DeleteKey(ctx context.Context, kind KeyKind, lookupKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE kind = ? AND lookup_key = ?`, string(kind), lookupKey)
	return err
}
