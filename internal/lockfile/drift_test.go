package lockfile

import (
	"testing"

	"github.com/pxtool/px/internal/artifact"
)

func TestAnalyzeDiffClean(t *testing.T) {
	snap := LockSnapshot{
		Dependencies: []Dependency{
			{Name: "requests", Specifier: "requests==2.31.0"},
		},
	}
	specs := []ManifestSpec{{Name: "requests", Specifier: "requests==2.31.0"}}
	report := AnalyzeDiff(snap, "", specs)
	if !report.IsClean() {
		t.Fatalf("expected clean diff, got %+v", report)
	}
}

func TestAnalyzeDiffFingerprintShortCircuits(t *testing.T) {
	snap := LockSnapshot{
		ManifestFingerprint: "abc",
		Dependencies: []Dependency{
			{Name: "requests", Specifier: "requests==2.31.0"},
		},
	}
	specs := []ManifestSpec{{Name: "flask", Specifier: "flask==3.0.0"}}
	report := AnalyzeDiff(snap, "abc", specs)
	if !report.IsClean() {
		t.Fatalf("fingerprint match should short-circuit to clean, got %+v", report)
	}
}

func TestAnalyzeDiffAddedRemovedChanged(t *testing.T) {
	snap := LockSnapshot{
		Dependencies: []Dependency{
			{Name: "requests", Specifier: "requests==2.31.0"},
			{Name: "flask", Specifier: "flask==2.0.0"},
		},
	}
	specs := []ManifestSpec{
		{Name: "requests", Specifier: "requests==2.32.0"},
		{Name: "click", Specifier: "click==8.0.0"},
	}
	report := AnalyzeDiff(snap, "", specs)
	if len(report.Added) != 1 || report.Added[0] != "click" {
		t.Fatalf("Added = %v", report.Added)
	}
	if len(report.Removed) != 1 || report.Removed[0] != "flask==2.0.0" {
		t.Fatalf("Removed = %v", report.Removed)
	}
	if len(report.Changed) != 1 || report.Changed[0].Name != "requests" {
		t.Fatalf("Changed = %v", report.Changed)
	}
	if report.Summary() == "clean" {
		t.Fatal("expected non-clean summary")
	}
}

func TestVerifyLockedArtifactsMissingFile(t *testing.T) {
	snap := LockSnapshot{
		Dependencies: []Dependency{
			{Name: "requests", Artifact: artifact.LockedArtifact{CachedPath: "/nonexistent/path/does-not-exist.whl", Size: 10}},
		},
	}
	issues := VerifyLockedArtifacts(snap)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", issues)
	}
}

func TestVerifyLockedArtifactsEmptyWhenNoCachedPaths(t *testing.T) {
	snap := LockSnapshot{
		Dependencies: []Dependency{{Name: "requests"}},
	}
	issues := VerifyLockedArtifacts(snap)
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}
