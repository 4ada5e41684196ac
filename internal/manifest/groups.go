package manifest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// devGroupNames are the conventional group names §4.4 point 3 lists.
var devGroupNames = map[string]bool{
	"dev": true, "test": true, "tests": true, "doc": true, "docs": true,
	"lint": true, "format": true, "fmt": true, "typing": true, "mypy": true,
	"px-dev": true,
}

// devToolSpecs are spec prefixes that mark an optional-dependencies group
// as a dev-tool group even when its name doesn't match devGroupNames.
var devToolSpecs = []string{
	"pytest", "ruff", "mypy", "coverage", "tox", "nox", "black", "isort", "sphinx",
}

// parseDependencyGroupsRaw decodes the PEP 735 `[dependency-groups]` table,
// where each value is a list whose entries are either a plain requirement
// string or a `{include-group = "name"}` table.
func parseDependencyGroupsRaw(data []byte) (map[string][]string, error) {
	var top map[string]any
	if err := toml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("manifest: parse dependency-groups: %w", err)
	}
	raw, ok := top["dependency-groups"]
	if !ok {
		return nil, nil
	}
	rawMap, ok := raw.(map[string]any)
	if !ok {
		return nil, nil
	}
	out := map[string][]string{}
	for name, v := range rawMap {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		var entries []string
		for _, item := range list {
			switch t := item.(type) {
			case string:
				entries = append(entries, t)
			case map[string]any:
				if ref, ok := t["include-group"].(string); ok {
					entries = append(entries, "include-group:"+ref)
				}
			}
		}
		out[name] = entries
	}
	return out, nil
}

// ResolveDependencyGroups expands every declared group's `include-group`
// references into a flat requirement list, detecting cycles (spec §9:
// "include-group cycles in manifest dependency-group resolution are
// rejected with a diagnostic message").
func ResolveDependencyGroups(s ProjectSnapshot) (map[string][]string, error) {
	out := map[string][]string{}
	visiting := map[string]bool{}
	var resolve func(name string, stack []string) ([]string, error)
	resolve = func(name string, stack []string) ([]string, error) {
		if done, ok := out[name]; ok {
			return done, nil
		}
		if visiting[name] {
			return nil, fmt.Errorf("manifest: include-group cycle: %s", strings.Join(append(stack, name), " -> "))
		}
		visiting[name] = true
		defer delete(visiting, name)

		raw, ok := s.DeclaredDependencyGroups[name]
		if !ok {
			raw = nil
		}
		var flat []string
		for _, entry := range raw {
			if ref, ok := strings.CutPrefix(entry, "include-group:"); ok {
				nested, err := resolve(ref, append(stack, name))
				if err != nil {
					return nil, err
				}
				flat = append(flat, nested...)
				continue
			}
			flat = append(flat, entry)
		}
		// poetry groups and auto-declared optional-dependencies groups
		// are flat requirement lists with no include-group syntax.
		if len(raw) == 0 {
			if poetry, ok := s.PoetryGroups[name]; ok {
				flat = append(flat, poetry...)
			}
			if opt, ok := s.OptionalDependencies[name]; ok {
				flat = append(flat, opt...)
			}
		}
		out[name] = flat
		return flat, nil
	}
	names := make([]string, 0, len(s.DeclaredDependencyGroups)+len(s.PoetryGroups)+len(s.OptionalDependencies))
	seen := map[string]bool{}
	for _, m := range []map[string][]string{s.DeclaredDependencyGroups, s.PoetryGroups, s.OptionalDependencies} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := resolve(name, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// effectiveGroupNames chooses the active dependency groups per the
// priority order in spec §4.4:
//  1. [tool.px.dependencies].include-groups if set (explicit)
//  2. legacy [tool.px].dependency-groups
//  3. auto-declared groups
//  4. PX_GROUPS env appends
func effectiveGroupNames(s ProjectSnapshot, envGroups []string) ([]string, string) {
	source := "auto"
	var names []string
	switch {
	case len(s.PxOptions.IncludeGroups) > 0:
		names = append(names, s.PxOptions.IncludeGroups...)
		source = "explicit"
	case len(s.PxOptions.DependencyGroups) > 0:
		names = append(names, s.PxOptions.DependencyGroups...)
		source = "legacy"
	default:
		names = append(names, autoDeclaredGroups(s)...)
		source = "auto"
	}
	if len(envGroups) > 0 {
		names = append(names, envGroups...)
		if source == "auto" {
			source = "env"
		}
	}
	return dedupeSorted(names), source
}

// ApplyEnvGroups recomputes the active group set with PX_GROUPS-sourced
// names appended, without re-parsing the manifest.
func ApplyEnvGroups(s ProjectSnapshot, envGroups []string) ProjectSnapshot {
	s.DependencyGroups, s.DeclaredGroupSource = effectiveGroupNames(s, envGroups)
	return s
}

// autoDeclaredGroups implements §4.4 point 3: every top-level PEP 735
// [dependency-groups] key, plus dev-named or dev-tool optional-dependencies
// groups, plus every [tool.poetry.group.<name>.dependencies].
func autoDeclaredGroups(s ProjectSnapshot) []string {
	var out []string
	for name := range s.DeclaredDependencyGroups {
		out = append(out, name)
	}
	for name, specs := range s.OptionalDependencies {
		lname := strings.ToLower(name)
		if devGroupNames[lname] || containsDevToolSpec(specs) {
			out = append(out, name)
		}
	}
	for name := range s.PoetryGroups {
		out = append(out, name)
	}
	return out
}

func containsDevToolSpec(specs []string) bool {
	for _, s := range specs {
		lower := strings.ToLower(s)
		for _, tool := range devToolSpecs {
			if strings.HasPrefix(lower, tool) {
				return true
			}
		}
	}
	return false
}

func dedupeSorted(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// lowerPoetryDependency lowers one [tool.poetry.dependencies]-style entry
// into a PEP 508 requirement string (spec §4.4): `^X.Y.Z` becomes
// `>=X.Y.Z,<(X+1).0.0` (or the analogous 0-handling for `^0.Y.Z`), and
// `{extras, version, python, markers}` tables become
// `name[extra1,extra2] <spec>; python_version ... and <markers>`.
func lowerPoetryDependency(name string, spec any) string {
	switch v := spec.(type) {
	case string:
		return name + lowerPoetryVersion(v)
	case map[string]any:
		var b strings.Builder
		b.WriteString(name)
		if extras, ok := v["extras"].([]any); ok && len(extras) > 0 {
			var names []string
			for _, e := range extras {
				if s, ok := e.(string); ok {
					names = append(names, s)
				}
			}
			if len(names) > 0 {
				b.WriteString("[" + strings.Join(names, ",") + "]")
			}
		}
		if version, ok := v["version"].(string); ok && version != "" {
			if lowered := lowerPoetryVersion(version); lowered != "" {
				b.WriteString(" " + lowered)
			}
		}
		var markers []string
		if py, ok := v["python"].(string); ok && py != "" {
			markers = append(markers, "python_version "+pythonMarkerFromPoetryConstraint(py))
		}
		if m, ok := v["markers"].(string); ok && m != "" {
			markers = append(markers, m)
		}
		if len(markers) > 0 {
			b.WriteString("; " + strings.Join(markers, " and "))
		}
		return b.String()
	default:
		return name
	}
}

// pythonMarkerFromPoetryConstraint renders a poetry `python` constraint as
// the right-hand side of a `python_version ...` marker clause.
func pythonMarkerFromPoetryConstraint(c string) string {
	c = strings.TrimSpace(c)
	if lowered := lowerPoetryVersion(c); lowered != "" {
		return strings.ReplaceAll(lowered, ",", " and python_version ")
	}
	return fmt.Sprintf("%q", c)
}

// lowerPoetryVersion renders a caret/tilde poetry constraint as a PEP 440
// specifier, e.g. "^1.2.3" -> ">=1.2.3,<2.0.0", "^0.2.3" -> ">=0.2.3,<0.3.0".
func lowerPoetryVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "*" {
		return ""
	}
	if strings.HasPrefix(v, "^") {
		parts := strings.Split(strings.TrimPrefix(v, "^"), ".")
		major := atoiSafe(parts[0])
		if major > 0 {
			return fmt.Sprintf(">=%s,<%d.0.0", strings.TrimPrefix(v, "^"), major+1)
		}
		if len(parts) > 1 {
			minor := atoiSafe(parts[1])
			if minor > 0 {
				return fmt.Sprintf(">=%s,<0.%d.0", strings.TrimPrefix(v, "^"), minor+1)
			}
		}
		if len(parts) > 2 {
			patch := atoiSafe(parts[2])
			return fmt.Sprintf(">=%s,<0.0.%d", strings.TrimPrefix(v, "^"), patch+1)
		}
		return ">=" + strings.TrimPrefix(v, "^")
	}
	if strings.HasPrefix(v, "~") {
		parts := strings.Split(strings.TrimPrefix(v, "~"), ".")
		major := atoiSafe(parts[0])
		minor := 0
		if len(parts) > 1 {
			minor = atoiSafe(parts[1])
		}
		return fmt.Sprintf(">=%s,<%d.%d.0", strings.TrimPrefix(v, "~"), major, minor+1)
	}
	if strings.ContainsAny(v, "<>=!") {
		return v
	}
	return "==" + v
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
