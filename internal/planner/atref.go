package planner

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"

	"github.com/pxtool/px/internal/cas"
	"github.com/pxtool/px/internal/gitrepo"
)

var fullCommitRe = regexp.MustCompile(`^[0-9a-f]{40}$|^[0-9a-f]{64}$`)

// RepoMaterializer resolves a TargetAtRef or TargetRunReference into a
// concrete on-disk tree by fetching (or reusing) a CAS repo snapshot and
// extracting it, then re-running ResolveTarget against the resulting path
// (spec §4.6 steps 3-4). Target resolution itself stays pure and
// synchronous; this is the one piece of the planner that talks to the
// store and the git binary.
type RepoMaterializer struct {
	Store   *cas.Store
	Runner  gitrepo.Runner
	Offline bool
}

// MaterializeAtRef resolves a `--at <gitRef>` invocation against the
// project's own locator+worktree: it resolves gitRef to a commit, ensures
// a repo snapshot for that commit, validates the resulting tree carries
// both pyproject.toml and px.lock, and re-resolves the target inside it.
func (m *RepoMaterializer) MaterializeAtRef(ctx context.Context, locator, repoDir, gitRef, program string, argv []string) (Target, error) {
	commit, err := gitrepo.ResolveRef(ctx, m.Runner, repoDir, gitRef)
	if err != nil {
		return Target{}, fmt.Errorf("px_lock_missing_at_ref: resolve %q: %w", gitRef, err)
	}
	dir, err := m.extract(ctx, locator, commit, "")
	if err != nil {
		return Target{}, err
	}
	if _, err := os.Stat(filepath.Join(dir, "pyproject.toml")); err != nil {
		return Target{}, fmt.Errorf("pyproject_missing_at_ref: %s@%s has no pyproject.toml", locator, gitRef)
	}
	if _, err := os.Stat(filepath.Join(dir, "px.lock")); err != nil {
		return Target{}, fmt.Errorf("px_lock_missing_at_ref: %s@%s has no px.lock", locator, gitRef)
	}
	return ResolveTarget(dir, program, argv, ""), nil
}

// MaterializeRunReference resolves a `<locator>@<sha>:<path>` run
// reference (a Target of kind TargetRunReference) against the CAS,
// extracting the referenced tree and resolving scriptPath within it.
// allowFloating mirrors spec §4.6 point 3: a non-full-SHA commit is
// rejected unless the caller has explicitly allowed floating refs
// (`--allow-floating`, never under `--frozen` or CI=1).
func (m *RepoMaterializer) MaterializeRunReference(ctx context.Context, target Target, allowFloating bool) (Target, error) {
	if !allowFloating && !fullCommitRe.MatchString(target.Commit) {
		return Target{}, fmt.Errorf("run_reference_floating_disallowed: %q is not a full commit sha", target.Commit)
	}
	dir, err := m.extract(ctx, target.Locator, target.Commit, "")
	if err != nil {
		return Target{}, err
	}
	resolved := ResolveTarget(dir, target.ScriptPath, target.Argv, "")
	if resolved.Kind == TargetExecutable {
		return Target{}, fmt.Errorf("run_reference_script_not_found: %s not found under %s@%s", target.ScriptPath, target.Locator, target.Commit)
	}
	return resolved, nil
}

// ResolveMaterialized runs ResolveTarget and, for the two kinds that name
// a tree elsewhere (AtRef, RunReference), follows through with the
// materializer to land on a concrete File/InlineScript/Pxapp target. locator
// and repoDir identify the current project's own remote+worktree, used
// only for AtRef resolution; allowFloating governs RunReference's
// floating-ref rule.
func (m *RepoMaterializer) ResolveMaterialized(ctx context.Context, root, locator, repoDir, program string, argv []string, atRef string, allowFloating bool) (Target, error) {
	target := ResolveTarget(root, program, argv, atRef)
	switch target.Kind {
	case TargetAtRef:
		return m.MaterializeAtRef(ctx, locator, repoDir, target.GitRef, target.Program, target.Argv)
	case TargetRunReference:
		return m.MaterializeRunReference(ctx, target, allowFloating)
	default:
		return target, nil
	}
}

func (m *RepoMaterializer) extract(ctx context.Context, locator, commit, subdir string) (string, error) {
	spec := cas.RepoSnapshotSpec{Locator: locator, Commit: commit, Subdir: subdir}
	stored, err := m.Store.EnsureRepoSnapshot(ctx, m.Runner, spec, m.Offline)
	if err != nil {
		return "", err
	}
	loaded, err := m.Store.Load(ctx, stored.OID)
	if err != nil {
		return "", err
	}
	tarBytes, err := cas.ExtractRepoSnapshot(loaded.Payload)
	if err != nil {
		return "", err
	}
	// Each extraction gets its own unique, collision-proof directory name
	// rather than os.MkdirTemp's pattern matching, so two concurrent `px
	// run --at` invocations against the same commit never race on cleanup.
	dir := filepath.Join(os.TempDir(), "px-repo-snapshot-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := extractTar(tarBytes, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// extractTar writes a plain (uncompressed) tar stream's regular files and
// directories under dest: the `git archive` tar that
// cas.ExtractRepoSnapshot unwraps from a repo-snapshot payload.
func extractTar(data []byte, dest string) error {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("planner: extract repo snapshot: %w", err)
		}
		target := filepath.Join(dest, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeExtractedFile(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeExtractedFile(target string, r io.Reader) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}
