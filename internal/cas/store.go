// Package cas implements the sharded, digest-addressed object store
// described in spec §4.1: objects/<aa>/<oid> blobs, a SQLite index, a
// refs/GC graph, and a self-healing rebuild protocol.
//
// The Store type plays the role the teacher's cas.Store interface played
// (internal/cas/cas.go in the teacher: Has(ctx, id) only) but backs it with
// a real on-disk store instead of an OCI registry client.
package cas

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pxtool/px/internal/artifact"
	"github.com/pxtool/px/internal/oid"
	"github.com/pxtool/px/internal/pxlog"

	_ "modernc.org/sqlite"
)

const (
	formatVersion = 1
	schemaVersion = 1
	busyTimeout   = 10 * time.Second
)

var log = pxlog.New("cas")

// Store is the on-disk content-addressable store rooted at Root. It is
// process-wide but not thread-local: every write path takes the per-oid
// file lock and every index mutation runs in a BEGIN IMMEDIATE
// transaction, so a lazily-constructed singleton keyed by root path is
// safe to share across goroutines (spec §9 design notes).
type Store struct {
	Root string
	db   *sql.DB

	validated atomic.Bool
	mu        sync.Mutex
}

// StoredObject is returned by Store.Put.
type StoredObject struct {
	OID  string
	Path string
	Size int64
	Kind oid.Kind
}

// LoadedObject is returned by Store.Load.
type LoadedObject struct {
	OID     string
	Kind    oid.Kind
	Header  map[string]any
	Payload []byte
}

// Sentinel errors for the CAS integrity taxonomy (spec §7).
var (
	ErrMissingObject  = fmt.Errorf("cas: missing object")
	ErrDigestMismatch = fmt.Errorf("cas: digest mismatch")
	ErrSizeMismatch   = fmt.Errorf("cas: size mismatch")
	ErrKindMismatch   = fmt.Errorf("cas: kind mismatch")
	ErrMissingMeta    = fmt.Errorf("cas: missing meta")
	ErrIncompatible   = fmt.Errorf("cas: incompatible format/schema version")
	ErrIndexCorrupt   = fmt.Errorf("cas: index corrupt")
)

// Open creates the store layout if needed, opens (or rebuilds) the SQLite
// index, and runs the integrity check (spec §4.1 Integrity & self-healing).
// The check runs once per returned Store; opening the same root again
// returns a new Store that checks again.
func Open(root string) (*Store, error) {
	s := &Store{Root: root}
	if err := s.ensureLayout(); err != nil {
		return nil, err
	}
	db, err := s.openIndex()
	if err != nil {
		return nil, err
	}
	s.db = db
	if err := s.healthCheck(context.Background()); err != nil {
		return nil, err
	}
	if err := s.hardenPermissions(); err != nil {
		log.Printf("permission hardening failed (non-fatal): %v", err)
	}
	return s, nil
}

func (s *Store) ensureLayout() error {
	dirs := []string{
		filepath.Join(s.Root, "objects"),
		filepath.Join(s.Root, "locks"),
		filepath.Join(s.Root, "tmp"),
		filepath.Join(s.Root, "materialized-runtimes"),
		filepath.Join(s.Root, "materialized-pkg-builds"),
		filepath.Join(s.Root, "materialized-repo-snapshots"),
		filepath.Join(s.Root, "envs"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("cas: ensure layout %s: %w", d, err)
		}
	}
	return nil
}

func (s *Store) openIndex() (*sql.DB, error) {
	dsn := filepath.Join(s.Root, "index.sqlite") + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cas: open index: %w", err)
	}
	db.SetMaxOpenConns(1) // WAL + BEGIN IMMEDIATE serialize writers; one conn avoids SQLITE_BUSY races within-process
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("cas: apply schema: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS objects (
	oid           TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	size          INTEGER NOT NULL,
	created_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS refs (
	owner_type TEXT NOT NULL,
	owner_id   TEXT NOT NULL,
	oid        TEXT NOT NULL REFERENCES objects(oid),
	PRIMARY KEY (owner_type, owner_id, oid)
);
CREATE INDEX IF NOT EXISTS idx_refs_oid ON refs(oid);
CREATE TABLE IF NOT EXISTS keys (
	kind TEXT NOT NULL,
	key  TEXT NOT NULL,
	oid  TEXT NOT NULL,
	PRIMARY KEY (kind, key)
);
`

// healthCheck validates the index once per Store (the validated flag),
// and rebuilds from disk when integrity_check fails or the version rows
// are missing; a version mismatch is returned as ErrIncompatible (spec §4.1).
func (s *Store) healthCheck(ctx context.Context) error {
	if s.validated.Load() {
		return nil
	}
	var ok string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&ok); err != nil || ok != "ok" {
		return s.rebuild(ctx)
	}
	fv, err1 := s.getMeta(ctx, "cas_format_version")
	sv, err2 := s.getMeta(ctx, "schema_version")
	if err1 != nil || err2 != nil {
		// No version rows: a new index, or one that lost its rows. Rebuild
		// from the objects on disk (an empty walk for a new store; rebuild
		// stamps the versions), then seed created_by; last_used follows.
		if err := s.rebuild(ctx); err != nil {
			return err
		}
		if err := s.setMeta(ctx, "created_by", "px"); err != nil {
			return err
		}
	} else {
		var currentFV, currentSV int
		fmt.Sscanf(fv, "%d", &currentFV)
		fmt.Sscanf(sv, "%d", &currentSV)
		if currentFV != formatVersion || currentSV != schemaVersion {
			return fmt.Errorf("%w: index is format=%s schema=%s, binary expects format=%d schema=%d",
				ErrIncompatible, fv, sv, formatVersion, schemaVersion)
		}
	}
	if err := s.setMeta(ctx, "last_used", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	s.validated.Store(true)
	return nil
}

func (s *Store) getMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	return v, err
}

func (s *Store) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// rebuild walks objects/<aa>/<oid>, verifies each file's digest, decodes its
// kind header, and recreates the objects/refs rows (spec §4.1).
func (s *Store) rebuild(ctx context.Context) error {
	log.Printf("rebuilding index at %s", s.Root)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin rebuild tx: %v", ErrIndexCorrupt, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaDDL); err != nil {
		return fmt.Errorf("%w: reapply schema: %v", ErrIndexCorrupt, err)
	}
	if _, err := tx.Exec("DELETE FROM objects"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM refs"); err != nil {
		return err
	}

	objectsDir := filepath.Join(s.Root, "objects")
	entries, _ := os.ReadDir(objectsDir)
	for _, shardEntry := range entries {
		if !shardEntry.IsDir() {
			continue
		}
		shardDir := filepath.Join(objectsDir, shardEntry.Name())
		files, _ := os.ReadDir(shardDir)
		for _, f := range files {
			digest := f.Name()
			path := filepath.Join(shardDir, digest)
			info, err := f.Info()
			if err != nil {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil {
				log.Printf("skipping unreadable object %s: %v", digest, err)
				continue
			}
			if oid.DigestBytes(data) != digest {
				log.Printf("skipping CAS object whose digest does not match its filename during rebuild: %s", digest)
				continue
			}
			kind, err := peekKind(data)
			if err != nil {
				log.Printf("skipping CAS object with unreadable header during rebuild: %s: %v", digest, err)
				continue
			}
			now := time.Now().UTC().Unix()
			if _, err := tx.Exec(`INSERT INTO objects(oid, kind, size, created_at, last_accessed)
				VALUES (?, ?, ?, ?, ?)`, digest, string(kind), info.Size(), now, now); err != nil {
				return err
			}
		}
	}
	if err := reconstructRefs(tx, s.Root); err != nil {
		log.Printf("ref reconstruction incomplete: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit rebuild: %v", ErrIndexCorrupt, err)
	}
	if err := s.setMeta(ctx, "cas_format_version", fmt.Sprint(formatVersion)); err != nil {
		return err
	}
	if err := s.setMeta(ctx, "schema_version", fmt.Sprint(schemaVersion)); err != nil {
		return err
	}
	s.validated.Store(true)
	return nil
}

// hardenPermissions marks object files and materialized projection roots
// read-only after layout is ensured (spec §4.1 Permission hardening).
func (s *Store) hardenPermissions() error {
	roots := []string{
		filepath.Join(s.Root, "objects"),
		filepath.Join(s.Root, "materialized-runtimes"),
		filepath.Join(s.Root, "materialized-pkg-builds"),
		filepath.Join(s.Root, "materialized-repo-snapshots"),
	}
	var firstErr error
	for _, root := range roots {
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			mode := os.FileMode(0o444)
			if info.IsDir() {
				mode = 0o555
			}
			if chErr := os.Chmod(path, mode); chErr != nil && firstErr == nil {
				firstErr = chErr
			}
			return nil
		})
	}
	return firstErr
}

// Put stores payload, returning its StoredObject. Guarantees atomic
// rename from tmp/, read-only permissions, and an objects row matching
// (kind, size). If the target exists, its digest is verified before
// returning (spec §4.1).
func (s *Store) Put(ctx context.Context, obj oid.Object) (StoredObject, error) {
	digest, err := oid.Digest(obj)
	if err != nil {
		return StoredObject{}, err
	}
	path := s.objectPath(digest)
	release, err := s.lockOID(digest)
	if err != nil {
		return StoredObject{}, err
	}
	defer release()

	if info, statErr := os.Stat(path); statErr == nil {
		existing, readErr := os.ReadFile(path)
		if readErr != nil {
			return StoredObject{}, readErr
		}
		var env struct {
			Header  map[string]any `json:"header"`
			Kind    oid.Kind       `json:"kind"`
			Payload string         `json:"payload"`
		}
		if err := decodeEnvelope(existing, &env); err != nil {
			return StoredObject{}, fmt.Errorf("%w: existing object %s unreadable: %v", ErrDigestMismatch, digest, err)
		}
		recomputed, err := oid.Digest(oid.Object{Kind: env.Kind, Header: env.Header, Payload: mustDecodePayload(env.Payload)})
		if err != nil {
			return StoredObject{}, err
		}
		if recomputed != digest {
			return StoredObject{}, fmt.Errorf("%w: on-disk %s no longer matches its filename", ErrDigestMismatch, digest)
		}
		if err := s.ensureObjectRow(ctx, digest, obj.Kind, info.Size()); err != nil {
			return StoredObject{}, err
		}
		if obj.Kind == oid.KindRuntime {
			_ = s.writeRuntimeManifest(digest, obj.Header)
		}
		return StoredObject{OID: digest, Path: path, Size: info.Size(), Kind: obj.Kind}, nil
	}

	env, err := encodeEnvelope(obj)
	if err != nil {
		return StoredObject{}, err
	}
	tmpPath, err := s.writeTemp(env)
	if err != nil {
		return StoredObject{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		os.Remove(tmpPath)
		return StoredObject{}, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return StoredObject{}, fmt.Errorf("cas: rename into place: %w", err)
	}
	if err := os.Chmod(path, 0o444); err != nil {
		log.Printf("chmod read-only failed for %s: %v", path, err)
	}
	if err := s.ensureObjectRow(ctx, digest, obj.Kind, int64(len(env))); err != nil {
		return StoredObject{}, err
	}
	if obj.Kind == oid.KindRuntime {
		_ = s.writeRuntimeManifest(digest, obj.Header)
	}
	return StoredObject{OID: digest, Path: path, Size: int64(len(env)), Kind: obj.Kind}, nil
}

func (s *Store) writeTemp(data []byte) (string, error) {
	tmpDir := filepath.Join(s.Root, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(tmpDir, "obj-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (s *Store) ensureObjectRow(ctx context.Context, digest string, kind oid.Kind, size int64) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `INSERT INTO objects(oid, kind, size, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET last_accessed = excluded.last_accessed`,
		digest, string(kind), size, now, now)
	return err
}

// Load decodes oid's payload, verifying the on-disk digest and updating
// last_accessed.
func (s *Store) Load(ctx context.Context, digest string) (LoadedObject, error) {
	path := s.objectPath(digest)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadedObject{}, fmt.Errorf("%w: %s", ErrMissingObject, digest)
		}
		return LoadedObject{}, err
	}
	var env struct {
		Header  map[string]any `json:"header"`
		Kind    oid.Kind       `json:"kind"`
		Payload string         `json:"payload"`
	}
	if err := decodeEnvelope(data, &env); err != nil {
		return LoadedObject{}, fmt.Errorf("%w: %s: %v", ErrDigestMismatch, digest, err)
	}
	recomputed, err := oid.Digest(oid.Object{Kind: env.Kind, Header: env.Header, Payload: mustDecodePayload(env.Payload)})
	if err != nil {
		return LoadedObject{}, err
	}
	if recomputed != digest {
		return LoadedObject{}, fmt.Errorf("%w: %s", ErrDigestMismatch, digest)
	}
	_, _ = s.db.ExecContext(ctx, "UPDATE objects SET last_accessed = ? WHERE oid = ?", time.Now().UTC().Unix(), digest)
	return LoadedObject{OID: digest, Kind: env.Kind, Header: env.Header, Payload: mustDecodePayload(env.Payload)}, nil
}

// ObjectInfo returns the index row for oid, repairing the index from disk
// if the file exists but the row is missing (spec §4.1).
func (s *Store) ObjectInfo(ctx context.Context, digest string) (artifact.ObjectInfo, error) {
	row := s.db.QueryRowContext(ctx, "SELECT kind, size, created_at, last_accessed FROM objects WHERE oid = ?", digest)
	var kind string
	var size, createdAt, lastAccessed int64
	err := row.Scan(&kind, &size, &createdAt, &lastAccessed)
	if err == nil {
		return artifact.ObjectInfo{
			OID: digest, Kind: oid.Kind(kind), Size: size,
			CreatedAt:    time.Unix(createdAt, 0).UTC(),
			LastAccessed: time.Unix(lastAccessed, 0).UTC(),
		}, nil
	}
	if err != sql.ErrNoRows {
		return artifact.ObjectInfo{}, err
	}
	// Index repair from disk.
	path := s.objectPath(digest)
	data, statErr := os.ReadFile(path)
	if statErr != nil {
		return artifact.ObjectInfo{}, fmt.Errorf("%w: %s", ErrMissingObject, digest)
	}
	k, kindErr := peekKind(data)
	if kindErr != nil {
		return artifact.ObjectInfo{}, fmt.Errorf("%w: %s: %v", ErrKindMismatch, digest, kindErr)
	}
	if err := s.ensureObjectRow(ctx, digest, k, int64(len(data))); err != nil {
		return artifact.ObjectInfo{}, err
	}
	now := time.Now().UTC()
	return artifact.ObjectInfo{OID: digest, Kind: k, Size: int64(len(data)), CreatedAt: now, LastAccessed: now}, nil
}

// List returns sorted oids, optionally filtered by kind and digest prefix.
func (s *Store) List(ctx context.Context, kind oid.Kind, prefix string) ([]string, error) {
	query := "SELECT oid FROM objects WHERE 1=1"
	var args []any
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	if prefix != "" {
		query += " AND oid LIKE ?"
		args = append(args, prefix+"%")
	}
	query += " ORDER BY oid ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) objectPath(digest string) string {
	return filepath.Join(s.Root, "objects", oid.Shard(digest), digest)
}

func (s *Store) writeRuntimeManifest(digest string, header map[string]any) error {
	dir := filepath.Join(s.Root, "materialized-runtimes", digest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	manifest := map[string]any{"oid": digest, "header": header}
	data, err := encodeJSONIndent(manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644)
}
