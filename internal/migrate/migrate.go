package migrate

import (
	"context"
	"fmt"

	"github.com/pxtool/px/internal/fsys"
	"github.com/pxtool/px/internal/lockfile"
	"github.com/pxtool/px/internal/manifest"
	"github.com/pxtool/px/internal/outcome"
	"github.com/pxtool/px/internal/pxconfig"
)

// Mode selects preview vs apply (spec §4.8 "Request carries mode (apply
// vs preview)").
type Mode string

const (
	ModePreview Mode = "preview"
	ModeApply   Mode = "apply"
)

// Request is the full input to Run (spec §4.8 entry point `migrate(request)`).
type Request struct {
	Root           string
	Mode           Mode
	Source         SourceRequest
	AllowDirty     bool
	AutopinEnabled bool
	PythonOverride string
	LockBehavior   string // e.g. "write" | "skip"; Run does not read it and the installer does not receive it
}

// Installer is the narrow capability Run needs from the lockfile/install
// pipeline: given the merged requirement set, produce (or refresh) a
// px.lock and return its new snapshot.
type Installer interface {
	Install(root string, requirements []string, pythonOverride string) (lockfile.LockSnapshot, error)
}

// DirtyChecker reports uncommitted worktree changes, for the
// `--allow-dirty` guard.
type DirtyChecker interface {
	DirtyFiles(root string) ([]string, error)
}

// Run executes the migration pipeline end to end (spec §4.8).
func Run(fs fsys.FS, req Request, resolver lockfile.Resolver, installer Installer, dirty DirtyChecker, cfg pxconfig.Config) (outcome.Outcome, error) {
	inv := Discover(fs, req.Root)

	if req.Mode == ModePreview {
		return preview(fs, req, inv, resolver)
	}
	return apply(fs, req, inv, resolver, installer, dirty, cfg)
}

func preview(fs fsys.FS, req Request, inv Inventory, resolver lockfile.Resolver) (outcome.Outcome, error) {
	target, _, err := buildTargetPyproject(fs, req, inv)
	if err != nil {
		return outcome.Outcome{}, err
	}
	snap, err := manifest.Parse(target, req.Root, "pyproject.toml")
	if err != nil {
		return outcome.Outcome{}, err
	}

	note := ""
	var autopinOutcome lockfile.AutopinOutcome
	if resolver != nil {
		autopinOutcome, err = lockfile.Autopin(context.Background(), lockfile.AutopinRequest{
			LooseSpecs: looseSpecs(snap.Requirements()),
			Enabled:    req.AutopinEnabled,
		}, resolver)
		if err != nil {
			return outcome.Outcome{}, err
		}
	} else {
		note = "autopin preview requires online mode; skipped"
	}

	details := outcome.Detail{
		"preview": outcome.Detail{
			"dependencies":    snap.Dependencies,
			"autopin_outcome": autopinOutcome.Kind,
			"note":            note,
		},
	}
	return outcome.OK("migration preview computed", outcome.DryRun(details)), nil
}

func apply(fs fsys.FS, req Request, inv Inventory, resolver lockfile.Resolver, installer Installer, dirty DirtyChecker, cfg pxconfig.Config) (outcome.Outcome, error) {
	if inv.ForeignOwnership() {
		return outcome.UserErr("foreign_ownership_conflict",
			fmt.Sprintf("pyproject.toml dependencies are owned by %v; refusing to migrate", inv.ForeignToolSections), nil), nil
	}
	if !cfg.Online {
		return outcome.UserErr("online_required", "PX_ONLINE=1 required for migrate --apply", nil), nil
	}
	if dirty != nil && !req.AllowDirty {
		changed, err := dirty.DirtyFiles(req.Root)
		if err != nil {
			return outcome.Outcome{}, err
		}
		if len(changed) > 0 {
			return outcome.UserErr("workspace_dirty",
				"worktree has uncommitted changes; pass --allow-dirty to proceed", outcome.Detail{"changed": changed}), nil
		}
	}

	backups := NewBackupManager(fs)
	rollback := func(failure error) (outcome.Outcome, error) {
		if rbErr := backups.Rollback(); rbErr != nil {
			return outcome.Outcome{}, fmt.Errorf("migrate: apply failed (%v) and rollback failed: %w", failure, rbErr)
		}
		return outcome.Failure(failure.Error(), nil), nil
	}

	pyprojectPath := manifestPath(req.Root)
	if err := backups.Snapshot(pyprojectPath); err != nil {
		return outcome.Outcome{}, err
	}

	target, prodSpecs, err := buildTargetPyproject(fs, req, inv)
	if err != nil {
		return outcome.Outcome{}, err
	}
	if err := fs.WriteFile(pyprojectPath, target, 0o644); err != nil {
		return rollback(err)
	}
	if req.PythonOverride != "" {
		if err := applyPythonOverride(fs, pyprojectPath, req.PythonOverride); err != nil {
			return rollback(err)
		}
	}

	if cfg.TestMigrateCrash == "post-write" {
		panic("PX_TEST_MIGRATE_CRASH=post-write")
	}

	var autopinOutcome lockfile.AutopinOutcome
	if resolver != nil {
		autopinOutcome, err = lockfile.Autopin(context.Background(), lockfile.AutopinRequest{
			LooseSpecs: looseSpecs(prodSpecs),
			Enabled:    req.AutopinEnabled,
		}, resolver)
		if err != nil {
			return rollback(err)
		}
	}
	if autopinOutcome.Kind == lockfile.AutopinDisabled && hasLooseSpecs(prodSpecs) {
		if err := backups.Rollback(); err != nil {
			return outcome.Outcome{}, fmt.Errorf("migrate: rollback after autopin disabled: %w", err)
		}
		return outcome.UserErr("autopin_disabled_with_loose_specs",
			"loose version specifiers remain and autopin is disabled", nil), nil
	}
	if autopinOutcome.Kind == lockfile.AutopinPlanned && len(autopinOutcome.DocContents) > 0 {
		if err := fs.WriteFile(pyprojectPath, autopinOutcome.DocContents, 0o644); err != nil {
			return rollback(err)
		}
	}

	lockPath := lockfilePath(req.Root)
	if _, err := fs.Stat(lockPath); err == nil {
		if err := backups.Snapshot(lockPath); err != nil {
			return rollback(err)
		}
	}

	mergedReqs := mergeInstallOverride(prodSpecs, autopinOutcome.InstallOverride)
	if installer != nil {
		if _, err := installer.Install(req.Root, mergedReqs, req.PythonOverride); err != nil {
			return rollback(err)
		}
	}

	summary := backups.Summary()
	details := outcome.Detail{
		"actions": outcome.Detail{
			"backups": summary,
		},
	}
	return outcome.OK("migration applied", details), nil
}

func hasLooseSpecs(specs []string) bool {
	return len(looseSpecs(specs)) > 0
}

func looseSpecs(specs []string) []string {
	var out []string
	for _, s := range specs {
		if !hasPin(s) {
			out = append(out, s)
		}
	}
	return out
}

func hasPin(spec string) bool {
	for i := 0; i+1 < len(spec); i++ {
		if spec[i] == '=' && spec[i+1] == '=' {
			return true
		}
	}
	return false
}

func mergeInstallOverride(specs []string, override map[string]string) []string {
	if len(override) == 0 {
		return specs
	}
	out := make([]string, 0, len(specs))
	seen := map[string]bool{}
	for _, s := range specs {
		name := stripName(s)
		if pinned, ok := override[name]; ok {
			out = append(out, name+"=="+pinned)
			seen[name] = true
			continue
		}
		out = append(out, s)
	}
	for name, version := range override {
		if !seen[name] {
			out = append(out, name+"=="+version)
		}
	}
	return out
}
