package manifest

import "testing"

const basicPyproject = `
[project]
name = "demo"
requires-python = ">=3.11"
dependencies = ["requests==2.31.0", "click"]

[project.optional-dependencies]
test = ["pytest>=7.0"]

[tool.px]
python = "3.11"
`

func TestParseBasic(t *testing.T) {
	snap, err := Parse([]byte(basicPyproject), "/proj", "/proj/pyproject.toml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.Name != "demo" {
		t.Fatalf("Name = %q", snap.Name)
	}
	if len(snap.Dependencies) != 2 {
		t.Fatalf("Dependencies = %v", snap.Dependencies)
	}
	if snap.PxOptions.Python != "3.11" {
		t.Fatalf("PxOptions.Python = %q", snap.PxOptions.Python)
	}
	if snap.ManifestFingerprint == "" {
		t.Fatal("expected non-empty fingerprint")
	}
}

func TestRequirementsIncludesAutoDevGroup(t *testing.T) {
	snap, err := Parse([]byte(basicPyproject), "/proj", "/proj/pyproject.toml")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reqs := snap.Requirements()
	found := false
	for _, r := range reqs {
		if r == "pytest>=7.0" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected auto-declared test group pulled in, got %v", reqs)
	}
}

func TestComputeFingerprintStableAcrossWhitespace(t *testing.T) {
	a, err := Parse([]byte(basicPyproject), "/proj", "/proj/pyproject.toml")
	if err != nil {
		t.Fatal(err)
	}
	reformatted := "\n\n" + basicPyproject + "\n# a trailing comment\n"
	b, err := Parse([]byte(reformatted), "/proj", "/proj/pyproject.toml")
	if err != nil {
		t.Fatal(err)
	}
	if a.ManifestFingerprint != b.ManifestFingerprint {
		t.Fatalf("fingerprint changed with only whitespace/comments: %q vs %q", a.ManifestFingerprint, b.ManifestFingerprint)
	}
}

func TestResolveDependencyGroupsIncludeGroup(t *testing.T) {
	data := `
[project]
name = "demo"

[dependency-groups]
base = ["requests"]
dev = ["pytest", {include-group = "base"}]
`
	snap, err := Parse([]byte(data), "/proj", "/proj/pyproject.toml")
	if err != nil {
		t.Fatal(err)
	}
	groups, err := ResolveDependencyGroups(snap)
	if err != nil {
		t.Fatalf("ResolveDependencyGroups: %v", err)
	}
	dev := groups["dev"]
	found := false
	for _, d := range dev {
		if d == "requests" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected dev group to include base's requests, got %v", dev)
	}
}

func TestResolveDependencyGroupsDetectsCycle(t *testing.T) {
	data := `
[project]
name = "demo"

[dependency-groups]
a = [{include-group = "b"}]
b = [{include-group = "a"}]
`
	snap, err := Parse([]byte(data), "/proj", "/proj/pyproject.toml")
	if err != nil {
		t.Fatal(err)
	}
	_, err = ResolveDependencyGroups(snap)
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestLowerPoetryVersionCaret(t *testing.T) {
	cases := map[string]string{
		"^1.2.3": ">=1.2.3,<2.0.0",
		"^0.2.3": ">=0.2.3,<0.3.0",
		"~1.2.3": ">=1.2.3,<1.3.0",
		"*":      "",
	}
	for in, want := range cases {
		if got := lowerPoetryVersion(in); got != want {
			t.Errorf("lowerPoetryVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEditorAddSpecsDoesNotLoosen(t *testing.T) {
	e := NewEditor([]byte(basicPyproject))
	added, updated, err := e.AddSpecs([]string{"requests", "flask==3.0.0"})
	if err != nil {
		t.Fatalf("AddSpecs: %v", err)
	}
	if len(added) != 1 || added[0] != "flask==3.0.0" {
		t.Fatalf("added = %v", added)
	}
	if len(updated) != 0 {
		t.Fatalf("expected requests not to loosen existing pin, updated = %v", updated)
	}
	deps := e.Dependencies()
	hasPinned := false
	for _, d := range deps {
		if d == "requests==2.31.0" {
			hasPinned = true
		}
	}
	if !hasPinned {
		t.Fatalf("expected requests==2.31.0 preserved, got %v", deps)
	}
}

func TestEditorRemoveSpecs(t *testing.T) {
	e := NewEditor([]byte(basicPyproject))
	removed, err := e.RemoveSpecs([]string{"click"})
	if err != nil {
		t.Fatalf("RemoveSpecs: %v", err)
	}
	if len(removed) != 1 || removed[0] != "click" {
		t.Fatalf("removed = %v", removed)
	}
	deps := e.Dependencies()
	for _, d := range deps {
		if d == "click" {
			t.Fatal("click should have been removed")
		}
	}
}
