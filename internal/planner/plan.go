package planner

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Engine is the chosen execution mode (spec §4.6 Engine selection).
type Engine string

const (
	EngineCasNative       Engine = "CasNative"
	EngineMaterializedEnv Engine = "MaterializedEnv"
)

// FallbackReason records why EngineMaterializedEnv was chosen over the
// preferred CasNative mode.
type FallbackReason string

const (
	FallbackMissingArtifacts    FallbackReason = "missing_artifacts"
	FallbackExplicitFlag        FallbackReason = "explicit_flag"
	FallbackAmbiguousResolution FallbackReason = "ambiguous_resolution"
)

// RuntimeInfo identifies the interpreter a plan runs against.
type RuntimeInfo struct {
	Path        string
	Version     string
	Platform    string
	IsPxManaged bool
}

// ProcessPlan is the fully-resolved child-process invocation spec §4.6
// defines.
type ProcessPlan struct {
	RuntimePath    string
	SysPathEntries []string
	Cwd            string
	Envs           []string
	Argv           []string
}

// ExecutionPlan carries ProcessPlan plus provenance describing how it was
// derived, for `px explain`-style introspection (spec's supplemented
// Explain feature).
type ExecutionPlan struct {
	Process        ProcessPlan
	Target         Target
	Engine         Engine
	FallbackReason FallbackReason // empty when Engine == CasNative
}

// BuildInputs are the resolved pieces the planner needs to assemble a
// ProcessPlan once a Target and engine have been decided.
type BuildInputs struct {
	ProjectRoot   string
	Runtime       RuntimeInfo
	PkgBuildDirs  []string // pkg-builds/<oid> dirs, CasNative mode, deterministic order
	SitePath      string   // envs/<profile_oid>/site, MaterializedEnv mode
	PepBinDirs    []string // PEP 582 bin dirs to prepend to PATH
	PycacheDir    string   // PYTHONPYCACHEPREFIX target, if writable
	CommandJSON   string   // serialized target+args+deps context
	InheritedPath string   // the parent process's PATH, for dedup-append
	InheritedEnv  map[string]string
}

// SelectEngine applies spec §4.6's engine-selection rule: CasNative is
// preferred; MaterializedEnv is used only for a recorded reason, and an
// integrity failure in CasNative mode is never silently downgraded
// (callers must surface such a failure as an error, not call this with
// forceFallback set for that case).
func SelectEngine(pkgBuildDirsAvailable bool, forceFallback bool, fallbackReason FallbackReason) (Engine, FallbackReason) {
	if pkgBuildDirsAvailable && !forceFallback {
		return EngineCasNative, ""
	}
	if fallbackReason == "" {
		fallbackReason = FallbackMissingArtifacts
	}
	return EngineMaterializedEnv, fallbackReason
}

// Build assembles a ProcessPlan for the given target and engine (spec
// §4.6 ProcessPlan + env var table).
func Build(in BuildInputs, target Target, engine Engine) (ProcessPlan, error) {
	argv, err := argvForTarget(target)
	if err != nil {
		return ProcessPlan{}, err
	}

	var sysPath []string
	var pythonHome string
	switch engine {
	case EngineCasNative:
		sysPath = append(sysPath, in.PkgBuildDirs...)
		sysPath = append(sysPath, filepath.Dir(in.Runtime.Path))
		pythonHome = filepath.Dir(in.Runtime.Path)
	case EngineMaterializedEnv:
		sysPath = append(sysPath, in.SitePath)
	default:
		return ProcessPlan{}, fmt.Errorf("planner: unknown engine %q", engine)
	}

	envs := buildEnvs(in, sysPath, pythonHome, engine)

	return ProcessPlan{
		RuntimePath:    in.Runtime.Path,
		SysPathEntries: sysPath,
		Cwd:            in.ProjectRoot,
		Envs:           envs,
		Argv:           argv,
	}, nil
}

func argvForTarget(target Target) ([]string, error) {
	switch target.Kind {
	case TargetFile, TargetInlineScript:
		return append([]string{target.Path}, target.Argv...), nil
	case TargetModule:
		return append([]string{"-m", target.ModuleName}, target.Argv...), nil
	case TargetPython:
		return target.Argv, nil
	case TargetExecutable:
		return append([]string{target.Program}, target.Argv...), nil
	default:
		return nil, fmt.Errorf("planner: target kind %q has no direct argv form", target.Kind)
	}
}

// buildEnvs assembles the full env var list from spec §4.6's table,
// deduping PATH entries in the mandated order: site bin, PEP 582 bins,
// runtime dir, inherited PATH.
func buildEnvs(in BuildInputs, sysPath []string, pythonHome string, engine Engine) []string {
	set := map[string]string{}
	set["PYTHONPATH"] = strings.Join(sysPath, string(filepath.ListSeparator))
	set["PYTHONUNBUFFERED"] = "1"
	set["PYTHONSAFEPATH"] = "1"
	if in.PycacheDir != "" {
		set["PYTHONPYCACHEPREFIX"] = in.PycacheDir
	}
	set["PX_ALLOWED_PATHS"] = set["PYTHONPATH"]
	set["PX_PROJECT_ROOT"] = in.ProjectRoot
	if in.Runtime.IsPxManaged {
		set["PX_PYTHON"] = in.Runtime.Path
	}
	if in.CommandJSON != "" {
		set["PX_COMMAND_JSON"] = in.CommandJSON
	}
	if in.SitePath != "" {
		set["VIRTUAL_ENV"] = filepath.Dir(in.SitePath)
	}
	if engine == EngineCasNative && pythonHome != "" {
		set["PYTHONHOME"] = pythonHome
	}

	var pathParts []string
	seen := map[string]bool{}
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		pathParts = append(pathParts, p)
	}
	if in.SitePath != "" {
		add(filepath.Join(filepath.Dir(in.SitePath), "bin"))
	}
	for _, d := range in.PepBinDirs {
		add(d)
	}
	add(filepath.Dir(in.Runtime.Path))
	for _, p := range strings.Split(in.InheritedPath, string(filepath.ListSeparator)) {
		add(p)
	}
	set["PATH"] = strings.Join(pathParts, string(filepath.ListSeparator))

	for k, v := range in.InheritedEnv {
		if _, overridden := set[k]; overridden {
			continue
		}
		if isProxyVar(k) {
			continue
		}
		set[k] = v
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+set[k])
	}
	return out
}

func isProxyVar(name string) bool {
	switch strings.ToUpper(name) {
	case "HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY":
		return true
	}
	return false
}

// pipMutationSubcommands are the pip subcommands the guard forbids.
var pipMutationSubcommands = map[string]bool{
	"install":   true,
	"uninstall": true,
}

// CheckPipGuard implements spec §4.6's PIP guard: if the resolved target
// program is pip (directly, or `python -m pip`) and the subcommand
// mutates state, refuse with a stable error.
func CheckPipGuard(target Target) error {
	var rest []string
	switch {
	case target.Kind == TargetModule && target.ModuleName == "pip":
		rest = target.Argv
	case target.Kind == TargetExecutable && isPipProgram(target.Program):
		rest = target.Argv
	default:
		return nil
	}
	if len(rest) == 0 {
		return nil
	}
	if pipMutationSubcommands[rest[0]] {
		return fmt.Errorf("pip_mutation_forbidden: pip subcommand %q mutates installed state", rest[0])
	}
	return nil
}

func isPipProgram(program string) bool {
	base := filepath.Base(program)
	return base == "pip" || base == "pip3" || strings.HasPrefix(base, "pip3.")
}
