// Package planner resolves a user-supplied run target into a ProcessPlan
// and records the provenance of that resolution (spec §4.6).
package planner

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// TargetKind enumerates the recognized target shapes spec §4.6 step 5
// distinguishes.
type TargetKind string

const (
	TargetFile         TargetKind = "File"
	TargetPython       TargetKind = "Python"
	TargetModule       TargetKind = "Module"
	TargetExecutable   TargetKind = "Executable"
	TargetPxapp        TargetKind = "Pxapp"
	TargetInlineScript TargetKind = "InlineScript"
	TargetRunReference TargetKind = "RunReference"
	TargetAtRef        TargetKind = "AtRef"
)

// Target is the resolved shape of what the user asked to run, before a
// ProcessPlan is built from it.
type Target struct {
	Kind       TargetKind
	Path       string   // resolved file path, for File/Pxapp/InlineScript
	ModuleName string   // for Module (python -m <name>)
	Argv       []string // the remaining argv after the program name
	Program    string   // the raw program token the user typed

	// RunReference fields (target kind RunReference): <locator>@<sha>:<path>
	Locator    string
	Commit     string
	ScriptPath string

	// AtRef fields (target kind AtRef)
	GitRef string
}

var runReferenceRe = regexp.MustCompile(`^(.+)@([0-9a-f]{7,64}):(.+)$`)

var pythonProgramRe = regexp.MustCompile(`^(python|python3|py|py3|python3\.\d+)$`)

// ResolveTarget applies spec §4.6's ordered target-resolution steps. root
// is the project/workspace root that File targets are resolved under.
// atRef, if non-empty, is the value of a `--at <git-ref>` flag (step 4).
// ResolveTarget itself only recognizes the presence of --at and returns a
// bare TargetAtRef; RepoMaterializer.ResolveMaterialized (atref.go) is what
// actually fetches that ref's tree and re-invokes ResolveTarget against the
// resulting path, since that step needs the CAS store and a git runner
// ResolveTarget doesn't have access to.
func ResolveTarget(root, program string, argv []string, atRef string) Target {
	if atRef != "" {
		return Target{Kind: TargetAtRef, GitRef: atRef, Program: program, Argv: argv}
	}

	if strings.HasSuffix(program, ".pxapp") {
		if p := resolveUnderRoot(root, program); p != "" {
			return Target{Kind: TargetPxapp, Path: p, Program: program, Argv: argv}
		}
	}

	if m := runReferenceRe.FindStringSubmatch(program); m != nil {
		return Target{
			Kind:       TargetRunReference,
			Locator:    m[1],
			Commit:     m[2],
			ScriptPath: m[3],
			Program:    program,
			Argv:       argv,
		}
	}

	if p := resolveUnderRoot(root, program); p != "" {
		if looksLikeInlineScript(p) {
			return Target{Kind: TargetInlineScript, Path: p, Program: program, Argv: argv}
		}
		return Target{Kind: TargetFile, Path: p, Program: program, Argv: argv}
	}

	if pythonProgramRe.MatchString(program) {
		if len(argv) >= 2 && argv[0] == "-m" {
			return Target{Kind: TargetModule, ModuleName: argv[1], Program: program, Argv: argv[2:]}
		}
		return Target{Kind: TargetPython, Program: program, Argv: argv}
	}

	return Target{Kind: TargetExecutable, Program: program, Argv: argv}
}

func resolveUnderRoot(root, program string) string {
	candidate := program
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

// looksLikeInlineScript recognizes a PEP 723 embedded metadata block: a
// `# /// script` ... `# ///` fenced comment near the top of the file.
func looksLikeInlineScript(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return hasInlineScriptBlock(string(data))
}

func hasInlineScriptBlock(content string) bool {
	lines := strings.Split(content, "\n")
	inBlock := false
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if !inBlock {
			if t == "# /// script" {
				inBlock = true
			}
			continue
		}
		if t == "# ///" {
			return true
		}
		if !strings.HasPrefix(t, "#") {
			return false
		}
	}
	return false
}
