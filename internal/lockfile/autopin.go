package lockfile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/pxtool/px/internal/artifact"
)

// Resolver is the external dependency resolver capability (spec §1
// Non-goals: "does not implement a full dependency resolver; it consumes
// a resolver's pin set"). Implementations call out to a real resolver
// process; tests substitute a FakeResolver.
type Resolver interface {
	// Resolve returns name==version pins for every spec in specs (a full
	// spec list, per spec §4.3 autopin point 2).
	Resolve(ctx context.Context, specs []string) (map[string]string, error)
}

// FakeResolver is a test double returning a fixed pin table.
type FakeResolver struct {
	Pins map[string]string
	Err  error
}

func (f *FakeResolver) Resolve(_ context.Context, specs []string) (map[string]string, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]string, len(specs))
	for _, s := range specs {
		name := artifact.NormalizeName(s)
		if v, ok := f.Pins[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// AutopinOutcomeKind enumerates the three results §4.3 describes.
type AutopinOutcomeKind string

const (
	AutopinNotNeeded AutopinOutcomeKind = "NotNeeded"
	AutopinDisabled  AutopinOutcomeKind = "Disabled"
	AutopinPlanned   AutopinOutcomeKind = "Planned"
)

// AutopinOutcome is the result of running Autopin.
type AutopinOutcome struct {
	Kind              AutopinOutcomeKind
	AutopinnedEntries []artifact.PinSpec
	DocContents       []byte // rewritten manifest contents; Autopin does not fill it, so it is nil in every outcome Autopin returns
	InstallOverride   map[string]string
}

// AutopinRequest carries the inputs Autopin needs.
type AutopinRequest struct {
	LooseSpecs  []string // raw manifest dependency strings without an `==` pin
	UvLock      []byte   // uv.lock contents, if present
	PoetryLock  []byte   // poetry.lock contents, if present
	Enabled     bool     // autopin toggle; false + loose specs present => Disabled
	TargetNames []string // restrict pin writeback to these names ("add --pin"); nil = all ("pin-manifest")
	MarkerEnv   map[string]string
}

// Autopin resolves loose manifest specs into ==-pinned ones (spec §4.3
// Autopin). It first tries existing lockfiles (uv.lock, then
// poetry.lock), then falls back to the external Resolver for anything
// still unresolved, merging pin sets with the resolver's answer winning
// conflicts.
func Autopin(ctx context.Context, req AutopinRequest, resolver Resolver) (AutopinOutcome, error) {
	loose := dedupeNonEmpty(req.LooseSpecs)
	if len(loose) == 0 {
		return AutopinOutcome{Kind: AutopinNotNeeded}, nil
	}
	if !req.Enabled {
		return AutopinOutcome{Kind: AutopinDisabled}, nil
	}

	fromUv := sourceFromUvLock(req.UvLock)
	fromPoetry := sourceFromPoetryLock(req.PoetryLock)

	pins := make(map[string]string)
	var unresolved []string
	for _, spec := range loose {
		name := artifact.NormalizeName(stripExtrasAndMarker(spec))
		if v, ok := fromUv[name]; ok {
			pins[name] = v
			continue
		}
		if v, ok := fromPoetry[name]; ok {
			pins[name] = v
			continue
		}
		unresolved = append(unresolved, spec)
	}

	if len(unresolved) > 0 {
		if resolver == nil {
			return AutopinOutcome{}, fmt.Errorf("lockfile: autopin: %d specs unresolved and no resolver configured", len(unresolved))
		}
		resolved, err := resolver.Resolve(ctx, loose)
		if err != nil {
			return AutopinOutcome{}, fmt.Errorf("lockfile: autopin: resolver: %w", err)
		}
		// The resolver's answer wins conflicts (spec §4.3 point 3): it
		// overwrites lockfile-sourced pins for the same (name, ...) pair
		// only when the resolved version actually differs.
		for name, version := range resolved {
			pins[name] = version
		}
	}

	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)

	targeted := map[string]bool{}
	for _, n := range req.TargetNames {
		targeted[artifact.NormalizeName(n)] = true
	}

	entries := make([]artifact.PinSpec, 0, len(names))
	for _, name := range names {
		if len(targeted) > 0 && !targeted[name] {
			continue
		}
		entries = append(entries, artifact.PinSpec{Name: name, Version: pins[name]})
	}

	return AutopinOutcome{
		Kind:              AutopinPlanned,
		AutopinnedEntries: entries,
		InstallOverride:   pins,
	}, nil
}

func dedupeNonEmpty(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func stripExtrasAndMarker(spec string) string {
	s := spec
	if idx := strings.Index(s, ";"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.IndexAny(s, "[<>=!~ "); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// uvLockDoc mirrors the subset of uv.lock's schema Autopin needs.
type uvLockDoc struct {
	Package []struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Source  any    `toml:"source"`
	} `toml:"package"`
}

func sourceFromUvLock(data []byte) map[string]string {
	out := map[string]string{}
	if len(data) == 0 {
		return out
	}
	var doc uvLockDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return out
	}
	for _, p := range doc.Package {
		if p.Name == "" || p.Version == "" {
			continue
		}
		if isDirectURLSource(p.Source) {
			continue // skip direct-URL entries per spec §4.3 point 1
		}
		out[artifact.NormalizeName(p.Name)] = p.Version
	}
	return out
}

// poetryLockDoc mirrors the subset of poetry.lock's schema Autopin needs.
type poetryLockDoc struct {
	Package []struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Source  any    `toml:"source"`
	} `toml:"package"`
}

func sourceFromPoetryLock(data []byte) map[string]string {
	out := map[string]string{}
	if len(data) == 0 {
		return out
	}
	var doc poetryLockDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return out
	}
	for _, p := range doc.Package {
		if p.Name == "" || p.Version == "" {
			continue
		}
		if isDirectURLSource(p.Source) {
			continue
		}
		out[artifact.NormalizeName(p.Name)] = p.Version
	}
	return out
}

func isDirectURLSource(source any) bool {
	m, ok := source.(map[string]any)
	if !ok {
		return false
	}
	kind, _ := m["type"].(string)
	switch strings.ToLower(kind) {
	case "url", "directory", "git", "file":
		return true
	}
	return false
}
