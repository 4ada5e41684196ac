package planner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"strings"
	"testing"

	"github.com/pxtool/px/internal/cas"
	"github.com/pxtool/px/internal/oid"
)

func archiveTarWithFiles(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMaterializeRunReferenceRejectsFloatingRef(t *testing.T) {
	m := &RepoMaterializer{}
	target := Target{Kind: TargetRunReference, Locator: "git+file:///repo", Commit: "main", ScriptPath: "scripts/run.py"}
	_, err := m.MaterializeRunReference(context.Background(), target, false)
	if err == nil || !strings.Contains(err.Error(), "run_reference_floating_disallowed") {
		t.Fatalf("got err=%v, want floating-ref rejection", err)
	}
}

func TestMaterializeRunReferenceExtractsAndResolves(t *testing.T) {
	dir := t.TempDir()
	store, err := cas.Open(dir)
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}

	tarBytes := archiveTarWithFiles(t, map[string]string{"scripts/run.py": "print('hi')\n"})
	var gzBuf bytes.Buffer
	zw := gzip.NewWriter(&gzBuf)
	if _, err := zw.Write(tarBytes); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	commit := strings.Repeat("a", 40)
	header := map[string]any{"locator": "git+file:///repo", "commit": commit, "subdir": ""}
	stored, err := store.Put(context.Background(), oid.Object{Kind: oid.KindRepoSnapshot, Header: header, Payload: gzBuf.Bytes()})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.RecordKey(context.Background(), "repo-snapshot", "git+file:///repo|"+commit+"|", stored.OID); err != nil {
		t.Fatalf("RecordKey: %v", err)
	}

	m := &RepoMaterializer{Store: store}
	target := Target{Kind: TargetRunReference, Locator: "git+file:///repo", Commit: commit, ScriptPath: "scripts/run.py"}
	resolved, err := m.MaterializeRunReference(context.Background(), target, false)
	if err != nil {
		t.Fatalf("MaterializeRunReference: %v", err)
	}
	if resolved.Kind != TargetFile {
		t.Fatalf("kind = %v, want File", resolved.Kind)
	}
}
