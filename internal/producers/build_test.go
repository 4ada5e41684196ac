package producers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildWheelInvokesBuilderAndFindsOutput(t *testing.T) {
	out := t.TempDir()
	opts := BuildOpts{
		SdistPath:  "/dev/null",
		BuilderID:  "fake-builder",
		BuilderCmd: `touch "$PX_BUILD_OUTPUT/widget-1.0.0-py3-none-any.whl"`,
		OutputDir:  out,
	}
	path, err := BuildWheel(context.Background(), opts)
	if err != nil {
		t.Fatalf("BuildWheel: %v", err)
	}
	if filepath.Base(path) != "widget-1.0.0-py3-none-any.whl" {
		t.Fatalf("unexpected wheel path: %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected wheel file to exist: %v", err)
	}
}

func TestBuildWheelRequiresBuilderCmd(t *testing.T) {
	_, err := BuildWheel(context.Background(), BuildOpts{BuilderID: "none", OutputDir: t.TempDir()})
	if err == nil {
		t.Fatalf("expected error for missing builder command")
	}
}

func TestCacheKeyStable(t *testing.T) {
	a := CacheKey("widget", "1.0.0", []byte("sdist-bytes"), "cp311-linux", "hash1")
	b := CacheKey("widget", "1.0.0", []byte("sdist-bytes"), "cp311-linux", "hash1")
	if a != b {
		t.Fatalf("expected stable cache key")
	}
}

func TestBuildOptionsHashDefaultsFromInterpreterPath(t *testing.T) {
	h1 := BuildOptionsHash("/usr/bin/python3.11", nil)
	h2 := BuildOptionsHash("/usr/bin/python3.11", map[string]string{})
	if h1 != h2 {
		t.Fatalf("expected nil and empty env maps to hash identically")
	}
	h3 := BuildOptionsHash("/usr/bin/python3.12", nil)
	if h1 == h3 {
		t.Fatalf("expected different interpreter paths to hash differently")
	}
}
