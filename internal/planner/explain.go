package planner

import "context"

// Explain resolves target and assembles the same ExecutionPlan Run would
// use, without spawning a process (`px run --explain`). It does not follow
// through AtRef/RunReference targets into the CAS; callers that need that
// use ExplainMaterialized.
func Explain(in BuildInputs, root, program string, argv []string, atRef string, pkgBuildDirsAvailable, forceFallback bool, fallbackReason FallbackReason) (ExecutionPlan, error) {
	target := ResolveTarget(root, program, argv, atRef)
	return explainFor(in, target, pkgBuildDirsAvailable, forceFallback, fallbackReason)
}

// ExplainMaterialized is Explain's counterpart for targets that may name a
// tree elsewhere (a `--at <git-ref>` invocation or a `<locator>@<sha>:<path>`
// run reference): it resolves through RepoMaterializer first, so the
// resulting ExecutionPlan's Target always points at a concrete local path.
func ExplainMaterialized(ctx context.Context, mat *RepoMaterializer, in BuildInputs, root, locator, repoDir, program string, argv []string, atRef string, allowFloating, pkgBuildDirsAvailable, forceFallback bool, fallbackReason FallbackReason) (ExecutionPlan, error) {
	target, err := mat.ResolveMaterialized(ctx, root, locator, repoDir, program, argv, atRef, allowFloating)
	if err != nil {
		return ExecutionPlan{}, err
	}
	return explainFor(in, target, pkgBuildDirsAvailable, forceFallback, fallbackReason)
}

func explainFor(in BuildInputs, target Target, pkgBuildDirsAvailable, forceFallback bool, fallbackReason FallbackReason) (ExecutionPlan, error) {
	if err := CheckPipGuard(target); err != nil {
		return ExecutionPlan{}, err
	}
	engine, reason := SelectEngine(pkgBuildDirsAvailable, forceFallback, fallbackReason)
	proc, err := Build(in, target, engine)
	if err != nil {
		return ExecutionPlan{}, err
	}
	return ExecutionPlan{Process: proc, Target: target, Engine: engine, FallbackReason: reason}, nil
}
