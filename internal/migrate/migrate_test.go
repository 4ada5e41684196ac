package migrate

import (
	"testing"

	"github.com/pxtool/px/internal/fsys"
	"github.com/pxtool/px/internal/pxconfig"
)

func TestDiscoverFindsRequirementsAndForeignSections(t *testing.T) {
	fs := fsys.NewMem()
	_ = fs.WriteFile("/proj/requirements.txt", []byte("requests==2.31.0\nflask\n"), 0o644)
	_ = fs.WriteFile("/proj/pyproject.toml", []byte("[project]\nname = \"demo\"\n[tool.poetry]\nname = \"demo\"\n"), 0o644)

	inv := Discover(fs, "/proj")
	if !inv.HasRequirementsTxt {
		t.Fatal("expected HasRequirementsTxt")
	}
	if !inv.HasPyproject {
		t.Fatal("expected HasPyproject")
	}
	if len(inv.ForeignToolSections) != 1 || inv.ForeignToolSections[0] != "poetry" {
		t.Fatalf("got %v", inv.ForeignToolSections)
	}
}

func TestParseRequirementsTxtSkipsCommentsAndDirectives(t *testing.T) {
	data := []byte("# comment\n\nrequests==2.31.0\n-r other.txt\nflask>=2.0  # inline\n")
	got := ParseRequirementsTxt(data)
	want := []string{"requests==2.31.0", "flask>=2.0"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDetectConflictsSingleVsMultiSource(t *testing.T) {
	conflicts := DetectConflicts(map[string][]string{
		"pyproject":        {"requests==2.31.0"},
		"requirements.txt": {"requests==2.28.0"},
	})
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	if !conflicts[0].MultiSource {
		t.Fatal("expected MultiSource conflict")
	}
}

func TestBackupManagerRollbackRestoresAndRemoves(t *testing.T) {
	fs := fsys.NewMem()
	_ = fs.WriteFile("/proj/pyproject.toml", []byte("original"), 0o644)

	b := NewBackupManager(fs)
	if err := b.Snapshot("/proj/pyproject.toml"); err != nil {
		t.Fatal(err)
	}
	if err := b.Snapshot("/proj/px.lock"); err != nil { // didn't exist: tracked as created
		t.Fatal(err)
	}
	_ = fs.WriteFile("/proj/pyproject.toml", []byte("mutated"), 0o644)
	_ = fs.WriteFile("/proj/px.lock", []byte("new lock"), 0o644)

	if err := b.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	data, err := fs.ReadFile("/proj/pyproject.toml")
	if err != nil || string(data) != "original" {
		t.Fatalf("pyproject.toml not restored: %q, %v", data, err)
	}
	if _, err := fs.ReadFile("/proj/px.lock"); err == nil {
		t.Fatal("expected px.lock to be removed by rollback")
	}
}

func TestApplyRefusesForeignOwnership(t *testing.T) {
	fs := fsys.NewMem()
	_ = fs.WriteFile("/proj/pyproject.toml", []byte("[project]\nname=\"demo\"\ndependencies=[\"requests\"]\n[tool.poetry]\nname=\"demo\"\n"), 0o644)

	req := Request{Root: "/proj", Mode: ModeApply}
	out, err := Run(fs, req, nil, nil, nil, pxconfig.Config{Online: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != "UserError" {
		t.Fatalf("status = %v, want UserError", out.Status)
	}
	if out.Details["code"] != "foreign_ownership_conflict" {
		t.Fatalf("details = %v", out.Details)
	}
}

func TestApplyRefusesWhenOffline(t *testing.T) {
	fs := fsys.NewMem()
	_ = fs.WriteFile("/proj/pyproject.toml", []byte("[project]\nname=\"demo\"\ndependencies=[]\n"), 0o644)

	req := Request{Root: "/proj", Mode: ModeApply}
	out, err := Run(fs, req, nil, nil, nil, pxconfig.Config{Online: false})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Details["code"] != "online_required" {
		t.Fatalf("details = %v", out.Details)
	}
}

func TestPreviewPerformsNoWrites(t *testing.T) {
	fs := fsys.NewMem()
	_ = fs.WriteFile("/proj/pyproject.toml", []byte("[project]\nname=\"demo\"\ndependencies=[\"requests\"]\n"), 0o644)

	req := Request{Root: "/proj", Mode: ModePreview}
	out, err := Run(fs, req, nil, nil, nil, pxconfig.Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Status != "Ok" {
		t.Fatalf("status = %v", out.Status)
	}
	if out.Details["dry_run"] != true {
		t.Fatalf("expected dry_run detail, got %v", out.Details)
	}
}
