package cas

import (
	"context"
	"database/sql"

	"github.com/pxtool/px/internal/artifact"
)

// AddRef pins digest against GC under owner.
func (s *Store) AddRef(ctx context.Context, owner artifact.OwnerID, digest string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)`,
		string(owner.Type), owner.ID, digest)
	return err
}

// RemoveRef unpins digest from owner.
func (s *Store) RemoveRef(ctx context.Context, owner artifact.OwnerID, digest string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refs WHERE owner_type = ? AND owner_id = ? AND oid = ?`,
		string(owner.Type), owner.ID, digest)
	return err
}

// RemoveOwnerRefs removes only owner's refs, leaving other owners' refs on
// the same oids untouched.
func (s *Store) RemoveOwnerRefs(ctx context.Context, owner artifact.OwnerID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refs WHERE owner_type = ? AND owner_id = ?`,
		string(owner.Type), owner.ID)
	return err
}

// RefsFor lists the owners pinning digest.
func (s *Store) RefsFor(ctx context.Context, digest string) ([]artifact.OwnerID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner_type, owner_id FROM refs WHERE oid = ?`, digest)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []artifact.OwnerID
	for rows.Next() {
		var t, id string
		if err := rows.Scan(&t, &id); err != nil {
			return nil, err
		}
		out = append(out, artifact.OwnerID{Type: artifact.OwnerType(t), ID: id})
	}
	return out, rows.Err()
}

// LookupKey resolves a secondary deterministic key (e.g. a repo-snapshot
// spec) to an oid, dropping stale rows that point at missing objects
// (spec §4.1).
func (s *Store) LookupKey(ctx context.Context, kind, key string) (string, bool, error) {
	var digest string
	err := s.db.QueryRowContext(ctx, `SELECT oid FROM keys WHERE kind = ? AND key = ?`, kind, key).Scan(&digest)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, infoErr := s.ObjectInfo(ctx, digest); infoErr != nil {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM keys WHERE kind = ? AND key = ?`, kind, key)
		return "", false, nil
	}
	return digest, true, nil
}

// RecordKey stores a semantic-identity -> oid mapping.
func (s *Store) RecordKey(ctx context.Context, kind, key, digest string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO keys(kind, key, oid) VALUES (?, ?, ?)
		ON CONFLICT(kind, key) DO UPDATE SET oid = excluded.oid`, kind, key, digest)
	return err
}
