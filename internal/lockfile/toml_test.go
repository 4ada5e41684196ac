package lockfile

import (
	"strings"
	"testing"
	"time"
)

func TestRenderSortsDependenciesByNameAndSpecifier(t *testing.T) {
	snap := LockSnapshot{
		Version:     1,
		PxVersion:   "0.1.0",
		CreatedAt:   time.Unix(0, 0).UTC(),
		Mode:        ModePinned,
		ProjectName: "demo",
		Dependencies: []Dependency{
			{Name: "zeta", Specifier: "zeta==1.0"},
			{Name: "alpha", Specifier: "alpha==2.0"},
			{Name: "alpha", Specifier: "alpha==1.0"},
		},
	}

	out, err := Render(snap, 1)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	data := string(out)

	idxAlpha1 := strings.Index(data, "alpha==1.0")
	idxAlpha2 := strings.Index(data, "alpha==2.0")
	idxZeta := strings.Index(data, "zeta==1.0")
	if idxAlpha1 < 0 || idxAlpha2 < 0 || idxZeta < 0 {
		t.Fatalf("expected all specifiers present in rendered output: %s", data)
	}
	if !(idxAlpha1 < idxAlpha2 && idxAlpha2 < idxZeta) {
		t.Fatalf("expected dependencies sorted by (name, specifier), got order in: %s", data)
	}
}

func TestRenderParseRoundTripPreservesSortedOrder(t *testing.T) {
	snap := LockSnapshot{
		Version:     1,
		PxVersion:   "0.1.0",
		CreatedAt:   time.Unix(0, 0).UTC(),
		Mode:        ModePinned,
		ProjectName: "demo",
		Dependencies: []Dependency{
			{Name: "requests", Specifier: "requests==2.31.0"},
			{Name: "click", Specifier: "click==8.1.0"},
		},
	}

	out, err := Render(snap, 1)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(parsed.Dependencies))
	}
	if parsed.Dependencies[0].Name != "click" || parsed.Dependencies[1].Name != "requests" {
		t.Fatalf("expected sorted order click, requests; got %+v", parsed.Dependencies)
	}
}
