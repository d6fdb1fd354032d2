package cas

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// gcGracePeriod protects objects written moments ago but not yet ref'd
// (the window between Put and the caller's subsequent AddRef) from being
// swept by a concurrent GC run.
const gcGracePeriod = 10 * time.Minute

// GCReport summarizes one garbage-collection pass.
type GCReport struct {
	CollectedObjects int
	FreedBytes       int64
	Errors           []error
}

// GC removes every object with zero live refs and older than the grace
// period, along with any dangling keys that pointed at it. It never
// inspects or removes an object that refs still cites (§4.1: GC is
// reachability-only, never heuristic).
func (s *Store) GC(ctx context.Context) (GCReport, error) {
	cutoff := time.Now().UTC().Add(-gcGracePeriod).Unix()

	rows, err := s.db.QueryContext(ctx, `
		SELECT o.oid, o.kind, o.size FROM objects o
		LEFT JOIN refs r ON r.oid = o.oid
		WHERE r.oid IS NULL AND o.created_at < ?`, cutoff)
	if err != nil {
		return GCReport{}, err
	}
	type candidate struct {
		oid  string
		kind Kind
		size int64
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		var kind string
		if err := rows.Scan(&c.oid, &kind, &c.size); err != nil {
			rows.Close()
			return GCReport{}, err
		}
		c.kind = Kind(kind)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return GCReport{}, err
	}
	rows.Close()

	report := GCReport{}
	for _, c := range candidates {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}

		// re-check under the transaction: a ref may have landed since the
		// candidate scan above.
		var stillReferenced int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM refs WHERE oid = ?`, c.oid).Scan(&stillReferenced)
		if err != nil {
			tx.Rollback()
			report.Errors = append(report.Errors, err)
			continue
		}
		if stillReferenced > 0 {
			tx.Rollback()
			continue
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM keys WHERE oid = ?`, c.oid); err != nil {
			tx.Rollback()
			report.Errors = append(report.Errors, err)
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE oid = ?`, c.oid); err != nil {
			tx.Rollback()
			report.Errors = append(report.Errors, err)
			continue
		}
		if err := tx.Commit(); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}

		if err := s.removeBlob(c.kind, c.oid); err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		report.CollectedObjects++
		report.FreedBytes += c.size
	}
	return report, nil
}

func (s *Store) removeBlob(kind Kind, oid string) error {
	if dir := s.materializedDir(kind); dir != "" {
		return os.RemoveAll(filepath.Join(dir, oid))
	}
	return removeIfExists(s.objectPath(oid))
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
