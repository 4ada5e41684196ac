// Package state computes the StateReport and the auto-sync guard ordering
// described in spec §4.7: whether a project or workspace is
// uninitialized, needs a lock, needs an environment, or is consistent.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pxtool/px/internal/fsys"
	"github.com/pxtool/px/internal/lockfile"
)

// Kind is the canonical state kind (spec §3, §4.7 table).
type Kind string

const (
	KindUninitialized    Kind = "uninitialized"
	KindInitializedEmpty Kind = "initialized-empty"
	KindNeedsLock        Kind = "needs-lock"
	KindNeedsEnv         Kind = "needs-env"
	KindConsistent       Kind = "consistent"
)

// StoredPython is the interpreter identity recorded in a state file.
type StoredPython struct {
	Path    string `json:"path"`
	Version string `json:"version"`
}

// StoredEnvironment is the `current_env` block of a project/workspace/
// tool state file (spec §3, §6).
type StoredEnvironment struct {
	ID           string       `json:"id"`
	LockID       string       `json:"lock_id"`
	Platform     string       `json:"platform"`
	SitePackages string       `json:"site_packages"`
	EnvPath      string       `json:"env_path"`
	Python       StoredPython `json:"python"`
	ProfileOID   string       `json:"profile_oid,omitempty"`
}

// StoredRuntime records the interpreter backing an environment.
type StoredRuntime struct {
	OID      string `json:"oid"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Path     string `json:"path"`
}

// File is the on-disk `.px/project-state.json` /
// `.px/workspace-state.json` / `.px/state.json` shape.
type File struct {
	CurrentEnv StoredEnvironment `json:"current_env"`
	Runtime    StoredRuntime     `json:"runtime"`
}

// Validate rejects a state file with any of the required fields empty
// (spec §4.5 "Validation on read rejects empty id/lock_id/site_packages/
// python.path/python.version and empty runtime fields").
func (f File) Validate() error {
	missing := func(name, v string) error {
		if v == "" {
			return fmt.Errorf("state: %s is empty", name)
		}
		return nil
	}
	for _, check := range []struct {
		name, v string
	}{
		{"current_env.id", f.CurrentEnv.ID},
		{"current_env.lock_id", f.CurrentEnv.LockID},
		{"current_env.site_packages", f.CurrentEnv.SitePackages},
		{"current_env.python.path", f.CurrentEnv.Python.Path},
		{"current_env.python.version", f.CurrentEnv.Python.Version},
		{"runtime.oid", f.Runtime.OID},
		{"runtime.version", f.Runtime.Version},
		{"runtime.platform", f.Runtime.Platform},
		{"runtime.path", f.Runtime.Path},
	} {
		if err := missing(check.name, check.v); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and validates a state file.
func Load(fs fsys.FS, path string) (File, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("state: parse %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Save writes a state file.
func Save(fs fsys.FS, path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fs.WriteFile(path, data, 0o644)
}

// ProjectStatePath / WorkspaceStatePath / ToolStatePath locate the three
// state-file flavors under a root (spec §6).
func ProjectStatePath(root string) string { return filepath.Join(root, ".px", "project-state.json") }
func WorkspaceStatePath(root string) string {
	return filepath.Join(root, ".px", "workspace-state.json")
}
func ToolStatePath(root string) string { return filepath.Join(root, ".px", "state.json") }

// Inputs are the raw booleans the state-kind table (spec §4.7) is
// computed from.
type Inputs struct {
	ManifestExists bool
	LockExists     bool
	ManifestClean  bool
	EnvClean       bool
	DepsEmpty      bool
}

// Report is the computed StateReport.
type Report struct {
	Inputs
	Kind Kind
}

// Compute applies the deterministic table from spec §4.7.
func Compute(in Inputs) Report {
	switch {
	case !in.ManifestExists:
		return Report{Inputs: in, Kind: KindUninitialized}
	case !in.LockExists:
		return Report{Inputs: in, Kind: KindNeedsLock}
	case !in.ManifestClean:
		return Report{Inputs: in, Kind: KindNeedsLock}
	case !in.EnvClean:
		return Report{Inputs: in, Kind: KindNeedsEnv}
	case in.DepsEmpty:
		return Report{Inputs: in, Kind: KindInitializedEmpty}
	default:
		return Report{Inputs: in, Kind: KindConsistent}
	}
}

// EvaluateEnvClean reports whether the current env state file matches
// lockID and its site_packages directory still exists on disk (spec
// §4.7: "env_clean: the env state file exists, its lock_id equals the
// current lock's, and its site_packages path exists").
func EvaluateEnvClean(fs fsys.FS, statePath, lockID string) bool {
	f, err := Load(fs, statePath)
	if err != nil {
		return false
	}
	if f.CurrentEnv.LockID != lockID {
		return false
	}
	if _, err := os.Stat(f.CurrentEnv.SitePackages); err != nil {
		return false
	}
	return true
}

// EvaluateManifestClean reports whether the lock is clean against the
// manifest's current requirements (spec §4.7: "lock present, lock's
// manifest_fingerprint equals the current one (or, absent that, the
// drift diff is empty for marker-applicable specs)").
func EvaluateManifestClean(snap lockfile.LockSnapshot, manifestFingerprint string, specs []lockfile.ManifestSpec) bool {
	return lockfile.AnalyzeDiff(snap, manifestFingerprint, specs).IsClean()
}

// Issue is one recognized state-drift condition in auto-sync priority
// order (spec §4.7 Guards).
type Issue string

const (
	IssueMissingLock      Issue = "missing_lock"
	IssueLockDrift        Issue = "lock_drift"
	IssueMissingArtifacts Issue = "missing_artifacts"
	IssueMissingEnv       Issue = "missing_env"
	IssueEnvOutdated      Issue = "env_outdated"
	IssueRuntimeMismatch  Issue = "runtime_mismatch"
)

// autoSyncOrder is the fixed recovery order spec §4.7 mandates: first
// re-resolve issues, then re-materialize issues, each group in the order
// listed.
var autoSyncOrder = []Issue{
	IssueMissingLock, IssueLockDrift,
	IssueMissingArtifacts, IssueMissingEnv, IssueEnvOutdated, IssueRuntimeMismatch,
}

// OrderIssues sorts a set of detected issues into the mandated recovery
// order, dropping anything not in the recognized set.
func OrderIssues(issues []Issue) []Issue {
	rank := map[Issue]int{}
	for i, is := range autoSyncOrder {
		rank[is] = i
	}
	var out []Issue
	present := map[Issue]bool{}
	for _, is := range issues {
		if _, ok := rank[is]; ok && !present[is] {
			present[is] = true
			out = append(out, is)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if rank[out[j]] < rank[out[i]] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Strict reports whether the frozen/CI guard applies: `--frozen` or
// `CI=1` forbid auto-sync (spec §4.7 Guards).
func Strict(frozen, ci bool) bool { return frozen || ci }

// AllowedInStrictMode reports whether a strict guard accepts k without error.
func AllowedInStrictMode(k Kind) bool {
	return k == KindConsistent || k == KindInitializedEmpty
}
