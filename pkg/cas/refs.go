package cas

import (
	"context"
	"database/sql"
	"errors"

	pxerr "github.com/pxtools/px/pkg/pxerrors"
)

// AddRef records that ownerType/ownerID holds a live reference to oid.
// Adding a ref to an oid with no objects row fails with CASMissingObject
// (I1): refs never dangle.
func (s *Store) AddRef(ctx context.Context, ownerType OwnerType, ownerID, oid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM objects WHERE oid = ?`, oid).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &pxerr.CASMissingObject{OID: oid}
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)`,
		string(ownerType), ownerID, oid)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveRef drops a single ref. It does not garbage-collect the object: GC
// is a separate, explicit pass (§4.1) so that removing the last ref to an
// object never races a concurrent reader mid-use.
func (s *Store) RemoveRef(ctx context.Context, ownerType OwnerType, ownerID, oid string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM refs WHERE owner_type = ? AND owner_id = ? AND oid = ?`,
		string(ownerType), ownerID, oid)
	return err
}

// RemoveAllRefs drops every ref held by a given owner, used when an owner
// (a project-env, a profile) is being torn down entirely.
func (s *Store) RemoveAllRefs(ctx context.Context, ownerType OwnerType, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM refs WHERE owner_type = ? AND owner_id = ?`,
		string(ownerType), ownerID)
	return err
}

// RefCount returns how many distinct owners currently hold a ref to oid.
func (s *Store) RefCount(ctx context.Context, oid string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refs WHERE oid = ?`, oid).Scan(&n)
	return n, err
}

// Owners lists every (owner_type, owner_id) pair holding a live ref to oid,
// used by `px cache why` style diagnostics.
func (s *Store) Owners(ctx context.Context, oid string) ([]Ref, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_type, owner_id FROM refs WHERE oid = ?`, oid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ref
	for rows.Next() {
		var r Ref
		if err := rows.Scan(&r.OwnerType, &r.OwnerID); err != nil {
			return nil, err
		}
		r.OID = oid
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ref is one (owner, object) edge in the reference graph.
type Ref struct {
	OwnerType OwnerType
	OwnerID   string
	OID       string
}
