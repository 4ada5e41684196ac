package planner

import "fmt"

// EphemeralRequest describes a target run against a throwaway dependency
// set that is never recorded in any lockfile (e.g. `px run --with
// requests==2.31.0 script.py`).
type EphemeralRequest struct {
	Specs            []string // loose or pinned specs, e.g. "requests==2.31.0"
	FromRequirements string   // path to a -r requirements file, if given
	AtRef            string   // --at <ref> is not supported for ephemeral runs
}

// ResolveEphemeral validates an ephemeral run request before any
// resolution work begins. Every spec must carry an exact pin (`==`);
// loose specs would make the run non-reproducible and unrecordable.
// requirements-file ephemeral input and --at are both out of scope, each
// surfacing its own stable error code.
func ResolveEphemeral(req EphemeralRequest) error {
	if req.AtRef != "" {
		return fmt.Errorf("ephemeral_at_ref_unsupported: --at cannot be combined with an ephemeral dependency set")
	}
	if req.FromRequirements != "" {
		return fmt.Errorf("ephemeral_requirements_unsupported: ephemeral runs do not accept a requirements file")
	}
	var unpinned []string
	for _, s := range req.Specs {
		if !isExactPin(s) {
			unpinned = append(unpinned, s)
		}
	}
	if len(unpinned) > 0 {
		return fmt.Errorf("ephemeral_unpinned_inputs: %v must carry an exact == pin", unpinned)
	}
	return nil
}

func isExactPin(spec string) bool {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' && i+1 < len(spec) && spec[i+1] == '=' {
			return true
		}
		if spec[i] == '@' {
			return true // direct URL/path source counts as pinned
		}
	}
	return false
}

// TestTarget describes a `px test` invocation: test-exec integration is a
// thin wrapper that runs pytest as a Module target (`python -m pytest`)
// (spec's supplemented Test-exec integration feature).
type TestTarget struct {
	PytestAvailable bool
	Args            []string
}

// ResolveTestTarget builds the pytest Module target for a `px test`
// invocation, surfacing `missing_pytest` up front rather than letting the
// child process fail opaquely.
func ResolveTestTarget(tt TestTarget) (Target, error) {
	if !tt.PytestAvailable {
		return Target{}, fmt.Errorf("missing_pytest: pytest is not installed in the resolved environment")
	}
	return Target{Kind: TargetModule, ModuleName: "pytest", Argv: tt.Args}, nil
}
