// Package manifest reads and writes pyproject.toml (spec §4.4): the
// direct dependency array, dependency-group resolution, and the
// `[tool.px]` extensions. Parsing uses github.com/pelletier/go-toml/v2
// (already a core dependency via internal/lockfile); writes go through
// Editor's format-preserving text-region edits, since no TOML library in
// the pack or wider ecosystem round-trips comments the way Rust's
// toml_edit does (see DESIGN.md).
package manifest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/pxtool/px/internal/artifact"
	"github.com/pxtool/px/internal/fsys"
)

// PxOptions is the `[tool.px]` table.
type PxOptions struct {
	Python           string
	ManageCommand    string
	PluginImports    []string
	Env              map[string]string
	DependencyGroups []string // legacy [tool.px].dependency-groups
	IncludeGroups    []string // [tool.px.dependencies].include-groups
}

// ProjectSnapshot is the in-memory view of a manifest (spec §3).
type ProjectSnapshot struct {
	Root                     string
	ManifestPath             string
	LockPath                 string
	Name                     string
	PythonRequirement        string
	Dependencies             []string // raw project.dependencies specs
	OptionalDependencies     map[string][]string
	DeclaredDependencyGroups map[string][]string // raw [dependency-groups]
	PoetryGroups             map[string][]string // raw [tool.poetry.group.<name>.dependencies]

	DependencyGroups    []string // effective, resolved group names (spec §4.4)
	DeclaredGroupSource string   // "explicit" | "legacy" | "auto" | "env"
	PythonOverride      string
	PxOptions           PxOptions
	ManifestFingerprint string
}

// Requirements returns deps+active-group requirements, sorted and
// deduped, the way ProjectSnapshot.requirements is specified in §3.
func (s ProjectSnapshot) Requirements() []string {
	seen := map[string]bool{}
	var out []string
	add := func(spec string) {
		name := artifact.NormalizeName(stripSpec(spec))
		key := name + "|" + spec
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, spec)
	}
	for _, d := range s.Dependencies {
		add(d)
	}
	groups, _ := ResolveDependencyGroups(s)
	for _, g := range s.DependencyGroups {
		for _, d := range groups[g] {
			add(d)
		}
	}
	sort.Strings(out)
	return out
}

func stripSpec(spec string) string {
	s := spec
	if idx := strings.Index(s, ";"); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.IndexAny(s, "[<>=!~ "); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// rawDoc mirrors the subset of pyproject.toml's schema this package reads.
type rawDoc struct {
	Project struct {
		Name                 string              `toml:"name"`
		RequiresPython       string              `toml:"requires-python"`
		Dependencies         []string            `toml:"dependencies"`
		OptionalDependencies map[string][]string `toml:"optional-dependencies"`
	} `toml:"project"`
	Tool struct {
		Px struct {
			Python           string            `toml:"python"`
			ManageCommand    string            `toml:"manage-command"`
			PluginImports    []string          `toml:"plugin-imports"`
			Env              map[string]string `toml:"env"`
			DependencyGroups []string          `toml:"dependency-groups"`
			Dependencies     struct {
				IncludeGroups []string `toml:"include-groups"`
			} `toml:"dependencies"`
		} `toml:"px"`
		Poetry struct {
			Group map[string]struct {
				Dependencies map[string]any `toml:"dependencies"`
			} `toml:"group"`
		} `toml:"poetry"`
	} `toml:"tool"`
	BuildSystem struct {
		BuildBackend string `toml:"build-backend"`
	} `toml:"build-system"`
}

// Load parses pyproject.toml (and sibling uv.lock/poetry.lock presence is
// left to the migrate package) into a ProjectSnapshot.
func Load(fs fsys.FS, root string) (ProjectSnapshot, error) {
	manifestPath := filepath.Join(root, "pyproject.toml")
	data, err := fs.ReadFile(manifestPath)
	if err != nil {
		return ProjectSnapshot{}, fmt.Errorf("manifest: read %s: %w", manifestPath, err)
	}
	return Parse(data, root, manifestPath)
}

// Parse builds a ProjectSnapshot from already-read pyproject.toml bytes.
func Parse(data []byte, root, manifestPath string) (ProjectSnapshot, error) {
	var doc rawDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return ProjectSnapshot{}, fmt.Errorf("manifest: parse %s: %w", manifestPath, err)
	}
	groups, err := parseDependencyGroupsRaw(data)
	if err != nil {
		return ProjectSnapshot{}, err
	}
	poetryGroups := map[string][]string{}
	for name, g := range doc.Tool.Poetry.Group {
		for depName, spec := range g.Dependencies {
			poetryGroups[name] = append(poetryGroups[name], lowerPoetryDependency(depName, spec))
		}
		sort.Strings(poetryGroups[name])
	}

	snap := ProjectSnapshot{
		Root:                     root,
		ManifestPath:             manifestPath,
		LockPath:                 filepath.Join(root, "px.lock"),
		Name:                     doc.Project.Name,
		PythonRequirement:        doc.Project.RequiresPython,
		Dependencies:             doc.Project.Dependencies,
		OptionalDependencies:     doc.Project.OptionalDependencies,
		DeclaredDependencyGroups: groups,
		PoetryGroups:             poetryGroups,
		PxOptions: PxOptions{
			Python:           doc.Tool.Px.Python,
			ManageCommand:    doc.Tool.Px.ManageCommand,
			PluginImports:    doc.Tool.Px.PluginImports,
			Env:              doc.Tool.Px.Env,
			DependencyGroups: doc.Tool.Px.DependencyGroups,
			IncludeGroups:    doc.Tool.Px.Dependencies.IncludeGroups,
		},
	}
	snap.DependencyGroups, snap.DeclaredGroupSource = effectiveGroupNames(snap, nil)
	snap.ManifestFingerprint = ComputeFingerprint(snap)
	return snap, nil
}

// BuildBackend reports the build-system.build-backend value, used by the
// tooling-requirements check (spec §4.4).
func BuildBackend(data []byte) (string, error) {
	var doc rawDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	return doc.BuildSystem.BuildBackend, nil
}
