package cas

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pxtool/px/internal/artifact"
)

// reconstructRefs rebuilds the refs table during index rebuild by scanning
// (a) runtime manifest.json files and (b) env manifests under envs/…/
// manifest.json (spec §4.1). Project, workspace and tool state files are
// not scanned, so owner→profile_oid refs held only there are not restored.
func reconstructRefs(tx *sql.Tx, root string) error {
	runtimesDir := filepath.Join(root, "materialized-runtimes")
	entries, _ := os.ReadDir(runtimesDir)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifestPath := filepath.Join(runtimesDir, e.Name(), "manifest.json")
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			continue
		}
		var manifest struct {
			OID string `json:"oid"`
		}
		if json.Unmarshal(data, &manifest) == nil && manifest.OID != "" {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)`,
				string(artifact.OwnerRuntime), manifest.OID, manifest.OID); err != nil {
				return err
			}
		}
	}

	envsDir := filepath.Join(root, "envs")
	envEntries, _ := os.ReadDir(envsDir)
	for _, e := range envEntries {
		if !e.IsDir() {
			continue
		}
		profileOID := e.Name()
		manifestPath := filepath.Join(envsDir, e.Name(), "manifest.json")
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			continue
		}
		var manifest struct {
			PackageOIDs []string `json:"package_oids"`
			RuntimeOID  string   `json:"runtime_oid"`
		}
		if json.Unmarshal(data, &manifest) != nil {
			continue
		}
		for _, pkgOID := range manifest.PackageOIDs {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)`,
				string(artifact.OwnerProfile), profileOID, pkgOID); err != nil {
				return err
			}
		}
		if manifest.RuntimeOID != "" {
			if _, err := tx.Exec(`INSERT OR IGNORE INTO refs(owner_type, owner_id, oid) VALUES (?, ?, ?)`,
				string(artifact.OwnerProfile), profileOID, manifest.RuntimeOID); err != nil {
				return err
			}
		}
	}
	return nil
}

// GC removes unreferenced objects from disk and the index: any object with
// no row in refs is a candidate. Called explicitly (never implicitly
// during normal operation) since the store makes no promise about when an
// owner's refs are dropped relative to its environment being deleted.
func (s *Store) GC(ctx context.Context) (removed []string, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.oid FROM objects o
		LEFT JOIN refs r ON r.oid = o.oid
		WHERE r.oid IS NULL`)
	if err != nil {
		return nil, err
	}
	var orphans []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			rows.Close()
			return nil, err
		}
		orphans = append(orphans, o)
	}
	rows.Close()

	for _, digest := range orphans {
		path := s.objectPath(digest)
		if err := os.Chmod(path, 0o644); err == nil {
			_ = os.Remove(path)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE oid = ?`, digest); err != nil {
			return removed, err
		}
		removed = append(removed, digest)
	}
	return removed, nil
}
