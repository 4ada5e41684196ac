package sandbox

import (
	"context"
	"testing"
)

func TestHostRunnerRunCapturesOutput(t *testing.T) {
	r := HostRunner{}
	res, err := r.Run(context.Background(), Command{Argv: []string{"echo", "hi"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "hi\n" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hi\n")
	}
}

func TestHostRunnerNonZeroExit(t *testing.T) {
	r := HostRunner{}
	res, err := r.Run(context.Background(), Command{Argv: []string{"sh", "-c", "exit 3"}})
	if err != nil {
		t.Fatalf("Run returned error for a normal nonzero exit: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestStripProxyVars(t *testing.T) {
	in := []string{"PATH=/bin", "HTTP_PROXY=http://x", "FOO=bar", "no_proxy=localhost"}
	out := stripProxyVars(in)
	for _, v := range out {
		if v == "HTTP_PROXY=http://x" || v == "no_proxy=localhost" {
			t.Fatalf("proxy var not stripped: %v", out)
		}
	}
	if len(out) != 2 {
		t.Fatalf("got %v, want 2 entries", out)
	}
}

func TestSandboxRunnerRejectsEscapingCwd(t *testing.T) {
	s := &SandboxRunner{Root: t.TempDir()}
	_, err := s.Run(context.Background(), Command{Argv: []string{"echo", "hi"}, Cwd: "/"})
	if err == nil {
		t.Fatal("expected error for cwd outside root")
	}
}

func TestSandboxRunnerRewritesPython(t *testing.T) {
	root := t.TempDir()
	s := &SandboxRunner{Root: root, PythonPath: "/opt/env/bin/python3"}
	cmd, err := s.rewrite(Command{Argv: []string{"python", "-c", "1"}})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if cmd.Argv[0] != "/opt/env/bin/python3" {
		t.Fatalf("argv[0] = %q, want rewritten interpreter path", cmd.Argv[0])
	}
}

func TestIsPythonInvocation(t *testing.T) {
	cases := map[string]bool{
		"python":           true,
		"python3":          true,
		"python3.11":       true,
		"pip":              false,
		"/usr/bin/python3": true,
	}
	for in, want := range cases {
		if got := isPythonInvocation(in); got != want {
			t.Errorf("isPythonInvocation(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFakeRunnerRecordsCalls(t *testing.T) {
	f := &FakeRunner{Result: Result{Stdout: "ok"}}
	_, _ = f.Run(context.Background(), Command{Argv: []string{"true"}})
	if len(f.Calls) != 1 {
		t.Fatalf("Calls = %d, want 1", len(f.Calls))
	}
}
