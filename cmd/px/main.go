package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pxtool/px/internal/fsys"
	"github.com/pxtool/px/internal/lockfile"
	"github.com/pxtool/px/internal/manifest"
	"github.com/pxtool/px/internal/pxconfig"
	"github.com/pxtool/px/internal/state"
)

// main wires the core subsystems into a default status check: compute
// and print the current project's StateReport. Command parsing and
// dispatch for the full CLI surface live outside the core (spec §1
// Out of scope) and are not implemented here.
func main() {
	cfg := pxconfig.FromEnv()
	if err := run(cfg); err != nil {
		log.Fatalf("px: %v", err)
	}
}

func run(cfg pxconfig.Config) error {
	root, err := os.Getwd()
	if err != nil {
		return err
	}
	fs := fsys.OS{}

	report, err := computeState(fs, root)
	if err != nil {
		return err
	}

	strict := state.Strict(false, cfg.CI)
	if strict && !state.AllowedInStrictMode(report.Kind) {
		return fmt.Errorf("%s: CI requires a consistent or initialized-empty state", report.Kind)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func computeState(fs fsys.FS, root string) (state.Report, error) {
	manifestPath := filepath.Join(root, "pyproject.toml")
	lockPath := filepath.Join(root, "px.lock")

	manifestExists := false
	var snap manifest.ProjectSnapshot
	if data, err := fs.ReadFile(manifestPath); err == nil {
		manifestExists = true
		snap, err = manifest.Parse(data, root, manifestPath)
		if err != nil {
			return state.Report{}, fmt.Errorf("parse manifest: %w", err)
		}
	}

	lockExists := false
	manifestClean := false
	if data, err := fs.ReadFile(lockPath); err == nil {
		lockExists = true
		lockDoc, err := lockfile.Parse(data)
		if err != nil {
			return state.Report{}, fmt.Errorf("parse lock: %w", err)
		}
		manifestClean = lockDoc.ManifestFingerprint == snap.ManifestFingerprint
	}

	envClean := false
	if manifestExists && lockExists {
		envClean = state.EvaluateEnvClean(fs, state.ProjectStatePath(root), "")
	}

	in := state.Inputs{
		ManifestExists: manifestExists,
		LockExists:     lockExists,
		ManifestClean:  manifestClean,
		EnvClean:       envClean,
		DepsEmpty:      manifestExists && len(snap.Requirements()) == 0,
	}
	return state.Compute(in), nil
}
