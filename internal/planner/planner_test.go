package planner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveTargetFile(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "app.py")
	if err := os.WriteFile(script, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	target := ResolveTarget(dir, "app.py", nil, "")
	if target.Kind != TargetFile {
		t.Fatalf("kind = %v, want File", target.Kind)
	}
	if target.Path != script {
		t.Fatalf("path = %q, want %q", target.Path, script)
	}
}

func TestResolveTargetInlineScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "app.py")
	content := "# /// script\n# requires-python = \">=3.11\"\n# ///\nprint('hi')\n"
	if err := os.WriteFile(script, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	target := ResolveTarget(dir, "app.py", nil, "")
	if target.Kind != TargetInlineScript {
		t.Fatalf("kind = %v, want InlineScript", target.Kind)
	}
}

func TestResolveTargetPythonAndModule(t *testing.T) {
	dir := t.TempDir()
	target := ResolveTarget(dir, "python3", []string{"-m", "http.server"}, "")
	if target.Kind != TargetModule || target.ModuleName != "http.server" {
		t.Fatalf("got %+v", target)
	}
	target2 := ResolveTarget(dir, "python3", []string{"script.py"}, "")
	if target2.Kind != TargetPython {
		t.Fatalf("got %+v", target2)
	}
}

func TestResolveTargetRunReference(t *testing.T) {
	dir := t.TempDir()
	target := ResolveTarget(dir, "git+https://example.com/repo@abcdef0123456789abcdef0123456789abcdef01:scripts/run.py", nil, "")
	if target.Kind != TargetRunReference {
		t.Fatalf("kind = %v, want RunReference", target.Kind)
	}
	if target.ScriptPath != "scripts/run.py" {
		t.Fatalf("script path = %q", target.ScriptPath)
	}
}

func TestResolveTargetExecutable(t *testing.T) {
	dir := t.TempDir()
	target := ResolveTarget(dir, "black", []string{"--check", "."}, "")
	if target.Kind != TargetExecutable {
		t.Fatalf("kind = %v, want Executable", target.Kind)
	}
}

func TestResolveTargetAtRef(t *testing.T) {
	dir := t.TempDir()
	target := ResolveTarget(dir, "app.py", nil, "main")
	if target.Kind != TargetAtRef || target.GitRef != "main" {
		t.Fatalf("got %+v", target)
	}
}

func TestSelectEngine(t *testing.T) {
	engine, reason := SelectEngine(true, false, "")
	if engine != EngineCasNative || reason != "" {
		t.Fatalf("got %v/%v, want CasNative/empty", engine, reason)
	}
	engine2, reason2 := SelectEngine(false, false, "")
	if engine2 != EngineMaterializedEnv || reason2 != FallbackMissingArtifacts {
		t.Fatalf("got %v/%v", engine2, reason2)
	}
}

func TestBuildCasNativeEnvs(t *testing.T) {
	in := BuildInputs{
		ProjectRoot:   "/proj",
		Runtime:       RuntimeInfo{Path: "/opt/py/bin/python3.11", IsPxManaged: true},
		PkgBuildDirs:  []string{"/cas/pkg-builds/aaa", "/cas/pkg-builds/bbb"},
		InheritedPath: "/usr/bin:/bin",
	}
	target := Target{Kind: TargetFile, Path: "/proj/app.py"}
	plan, err := Build(in, target, EngineCasNative)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	foundPath := false
	for _, e := range plan.Envs {
		if strings.HasPrefix(e, "PYTHONHOME=") {
			foundPath = true
		}
	}
	if !foundPath {
		t.Fatalf("expected PYTHONHOME set in CasNative mode, got %v", plan.Envs)
	}
	if plan.Argv[0] != "/proj/app.py" {
		t.Fatalf("argv = %v", plan.Argv)
	}
}

func TestCheckPipGuardBlocksInstall(t *testing.T) {
	target := Target{Kind: TargetModule, ModuleName: "pip", Argv: []string{"install", "requests"}}
	if err := CheckPipGuard(target); err == nil {
		t.Fatal("expected pip_mutation_forbidden error")
	}
}

func TestCheckPipGuardAllowsList(t *testing.T) {
	target := Target{Kind: TargetModule, ModuleName: "pip", Argv: []string{"list"}}
	if err := CheckPipGuard(target); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveEphemeralRejectsLoose(t *testing.T) {
	err := ResolveEphemeral(EphemeralRequest{Specs: []string{"requests"}})
	if err == nil {
		t.Fatal("expected ephemeral_unpinned_inputs error")
	}
}

func TestResolveEphemeralAcceptsPinned(t *testing.T) {
	err := ResolveEphemeral(EphemeralRequest{Specs: []string{"requests==2.31.0"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestConsoleScriptIndexAmbiguous(t *testing.T) {
	site := t.TempDir()
	for _, d := range []string{"pkg_a-1.0.dist-info", "pkg_b-2.0.dist-info"} {
		dir := filepath.Join(site, d)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		content := "[console_scripts]\nmytool = mymod:main\n"
		if err := os.WriteFile(filepath.Join(dir, "entry_points.txt"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	idx, err := BuildConsoleScriptIndex(site)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Resolve("mytool"); err == nil {
		t.Fatal("expected ambiguous_console_script error")
	}
}

func TestConsoleScriptIndexResolvesSingle(t *testing.T) {
	site := t.TempDir()
	dir := filepath.Join(site, "pkg-1.0.dist-info")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "[console_scripts]\nmytool = mymod.cli:main\n\n[other]\nfoo = bar\n"
	if err := os.WriteFile(filepath.Join(dir, "entry_points.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	idx, err := BuildConsoleScriptIndex(site)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := idx.Resolve("mytool")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entry.Module != "mymod.cli" || entry.Attr != "main" {
		t.Fatalf("got %+v", entry)
	}
}
