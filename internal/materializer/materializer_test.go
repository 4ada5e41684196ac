package materializer

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pxtool/px/internal/cas"
	"github.com/pxtool/px/internal/oid"
)

type fakeLoader struct {
	payloads map[string][]byte
}

func (f *fakeLoader) Load(_ context.Context, digest string) (cas.LoadedObject, error) {
	return cas.LoadedObject{OID: digest, Kind: oid.KindPkgBuild, Payload: f.payloads[digest]}, nil
}

func buildWheelZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMaterializeExtractsWheelsAndIsIdempotent(t *testing.T) {
	root := t.TempDir()
	wheel := buildWheelZip(t, map[string]string{"pkg/__init__.py": "x = 1\n"})
	loader := &fakeLoader{payloads: map[string][]byte{"oid-1": wheel}}
	p := &Projector{EnvsRoot: root, Loader: loader}

	site, err := p.Materialize(context.Background(), "profile-abc", []Package{{Name: "pkg", Version: "1.0", PkgBuildOID: "oid-1"}})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(site, "pkg", "__init__.py")); err != nil {
		t.Fatalf("expected extracted file, got %v", err)
	}

	site2, err := p.Materialize(context.Background(), "profile-abc", []Package{{Name: "pkg", Version: "1.0", PkgBuildOID: "oid-1"}})
	if err != nil {
		t.Fatalf("second Materialize: %v", err)
	}
	if site2 != site {
		t.Fatalf("expected idempotent site path, got %q vs %q", site2, site)
	}
}

func TestEnvIDDeterministic(t *testing.T) {
	rt := RuntimeInfo{Version: "3.11.4", Platform: "linux-x86_64", Path: "/opt/py/bin/python3.11"}
	a := EnvID("lock-1", rt)
	b := EnvID("lock-1", rt)
	if a != b {
		t.Fatalf("EnvID not deterministic: %q vs %q", a, b)
	}
	c := EnvID("lock-2", rt)
	if a == c {
		t.Fatal("expected different lock id to change EnvID")
	}
}

func TestProfileOIDOrderIndependent(t *testing.T) {
	pkgs1 := []Package{{Name: "b", Version: "1.0"}, {Name: "a", Version: "1.0"}}
	pkgs2 := []Package{{Name: "a", Version: "1.0"}, {Name: "b", Version: "1.0"}}
	id1, err := ProfileOID("rt-oid", pkgs1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ProfileOID("rt-oid", pkgs2, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("ProfileOID should be order-independent: %q vs %q", id1, id2)
	}
}

func TestPycacheDirEmptyProfileNoOp(t *testing.T) {
	dir, err := PycacheDir(t.TempDir(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != "" {
		t.Fatalf("expected empty dir for empty profileOID, got %q", dir)
	}
}
