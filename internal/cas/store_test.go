package cas

import (
	"context"
	"testing"

	"github.com/pxtool/px/internal/artifact"
	"github.com/pxtool/px/internal/oid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	obj := oid.Object{
		Kind:    oid.KindSource,
		Header:  map[string]any{"name": "widget", "version": "1.0.0"},
		Payload: []byte("source bytes"),
	}
	stored, err := s.Put(ctx, obj)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	loaded, err := s.Load(ctx, stored.OID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(loaded.Payload) != "source bytes" {
		t.Fatalf("unexpected payload: %q", loaded.Payload)
	}
	if loaded.Kind != oid.KindSource {
		t.Fatalf("unexpected kind: %q", loaded.Kind)
	}
}

func TestPutIsIdempotentForIdenticalObject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	obj := oid.Object{Kind: oid.KindMeta, Header: map[string]any{"a": 1}, Payload: []byte("x")}
	first, err := s.Put(ctx, obj)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := s.Put(ctx, obj)
	if err != nil {
		t.Fatalf("Put (again): %v", err)
	}
	if first.OID != second.OID {
		t.Fatalf("expected same oid, got %q vs %q", first.OID, second.OID)
	}
}

func TestLoadMissingObjectErrors(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Load(context.Background(), "deadbeef"); err == nil {
		t.Fatalf("expected error loading missing object")
	}
}

func TestHasReflectsPresence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ok, err := s.Has(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if ok {
		t.Fatalf("expected miss for nonexistent digest")
	}
	stored, err := s.Put(ctx, oid.Object{Kind: oid.KindMeta, Header: map[string]any{}, Payload: []byte("p")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = s.Has(ctx, stored.OID)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !ok {
		t.Fatalf("expected hit after Put")
	}
}

func TestAddRefAndGCDeletesOrphansOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pinned, err := s.Put(ctx, oid.Object{Kind: oid.KindMeta, Header: map[string]any{"n": "pinned"}, Payload: []byte("p")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	orphan, err := s.Put(ctx, oid.Object{Kind: oid.KindMeta, Header: map[string]any{"n": "orphan"}, Payload: []byte("o")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	owner := artifact.OwnerID{Type: artifact.OwnerProjectEnv, ID: "proj-1"}
	if err := s.AddRef(ctx, owner, pinned.OID); err != nil {
		t.Fatalf("AddRef: %v", err)
	}
	removed, err := s.GC(ctx)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(removed) != 1 || removed[0] != orphan.OID {
		t.Fatalf("expected only orphan %q removed, got %v", orphan.OID, removed)
	}
	if _, err := s.Load(ctx, pinned.OID); err != nil {
		t.Fatalf("pinned object should survive GC: %v", err)
	}
}

func TestRecordKeyAndLookupKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stored, err := s.Put(ctx, oid.Object{Kind: oid.KindRepoSnapshot, Header: map[string]any{}, Payload: []byte("tar")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.RecordKey(ctx, "repo-snapshot", "loc|sha|sub", stored.OID); err != nil {
		t.Fatalf("RecordKey: %v", err)
	}
	digest, ok, err := s.LookupKey(ctx, "repo-snapshot", "loc|sha|sub")
	if err != nil {
		t.Fatalf("LookupKey: %v", err)
	}
	if !ok || digest != stored.OID {
		t.Fatalf("expected key hit for %q, got ok=%v digest=%q", stored.OID, ok, digest)
	}
}
