package producers

import (
	"context"
	"testing"

	"github.com/pxtool/px/internal/artifact"
	"github.com/pxtool/px/internal/cas"
	"github.com/pxtool/px/internal/pypi"
)

func TestDownloadAllStoresAndRefsEachWheel(t *testing.T) {
	store, err := cas.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	client := pypi.NewFakeClient()
	client.AddFile("widget", "1.0.0", pypi.File{
		Filename: "widget-1.0.0-py3-none-any.whl", URL: "https://files/widget.whl",
		PythonTag: "py3", ABITag: "none", PlatformTag: "any",
	}, []byte("wheel-bytes"))

	owner := artifact.OwnerID{Type: artifact.OwnerProjectEnv, ID: "proj-1"}
	jobs := []DownloadJob{{
		Spec:  artifact.PinSpec{Name: "widget", Version: "1.0.0"},
		Tags:  Tags{Python: "cp311", ABI: "cp311", Platform: "manylinux2014_s390x"},
		Owner: owner,
	}}

	results, err := DownloadAll(context.Background(), store, client, jobs, 4)
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Artifact.Filename != "widget-1.0.0-py3-none-any.whl" {
		t.Fatalf("unexpected artifact: %+v", results[0].Artifact)
	}
	refs, err := store.RefsFor(context.Background(), extractOID(results[0].Artifact.CachedPath))
	if err != nil {
		t.Fatalf("RefsFor: %v", err)
	}
	if len(refs) != 1 || refs[0] != owner {
		t.Fatalf("expected owner ref, got %v", refs)
	}
}

func TestDownloadAllFailsOnMissingPackage(t *testing.T) {
	store, err := cas.Open(t.TempDir())
	if err != nil {
		t.Fatalf("cas.Open: %v", err)
	}
	client := pypi.NewFakeClient()
	jobs := []DownloadJob{{
		Spec: artifact.PinSpec{Name: "missing", Version: "1.0.0"},
		Tags: Tags{Python: "cp311", ABI: "cp311", Platform: "manylinux2014_s390x"},
	}}
	if _, err := DownloadAll(context.Background(), store, client, jobs, 2); err == nil {
		t.Fatalf("expected error for missing package")
	}
}

// extractOID pulls the digest (filename) off a stored object's path.
func extractOID(path string) string {
	idx := len(path) - 1
	for idx >= 0 && path[idx] != '/' {
		idx--
	}
	return path[idx+1:]
}
