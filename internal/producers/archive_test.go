package producers

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeWorkspaceFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustWrite := func(rel, content string) {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	mustWrite("pyproject.toml", "[project]\nname = \"widget\"\n")
	mustWrite("src/widget/__init__.py", "VERSION = \"1.0.0\"\n")
	mustWrite("src/widget/__pycache__/widget.cpython-311.pyc", "junk")
	mustWrite(".git/HEAD", "ref: refs/heads/main\n")
	return dir
}

func TestArchiveWorkspaceDirIsDeterministic(t *testing.T) {
	dir := writeWorkspaceFixture(t)
	first, err := ArchiveWorkspaceDir(dir)
	if err != nil {
		t.Fatalf("ArchiveWorkspaceDir: %v", err)
	}
	second, err := ArchiveWorkspaceDir(dir)
	if err != nil {
		t.Fatalf("ArchiveWorkspaceDir (again): %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("expected byte-identical archives for identical input")
	}
}

func TestArchiveWorkspaceDirSkipsCacheDirs(t *testing.T) {
	dir := writeWorkspaceFixture(t)
	paths, err := collectPaths(dir)
	if err != nil {
		t.Fatalf("collectPaths: %v", err)
	}
	for _, p := range paths {
		if p == ".git" || p == "src/widget/__pycache__" {
			t.Fatalf("expected %q to be skipped, got paths %v", p, paths)
		}
	}
}
