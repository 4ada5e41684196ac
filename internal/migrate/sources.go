package migrate

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/pxtool/px/internal/artifact"
)

// SourceRequest carries the explicit overrides a `px migrate` invocation
// may supply (spec §4.8 "Request carries... a source file override, a
// dev-source override").
type SourceRequest struct {
	Source    string // --source override path, prod scope
	DevSource string // --dev-source override path, dev scope
}

// ParseRequirementsTxt parses a requirements.txt-style file into specs,
// skipping comments, blank lines, and `-r`/`--requirement`/`-c` include
// directives (those are out of scope for migration).
func ParseRequirementsTxt(data []byte) []string {
	var out []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "-") {
			continue
		}
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		out = append(out, line)
	}
	return out
}

// ResolveProdSpecs applies spec §4.8's precedence rule for production
// dependencies: `--source > pyproject > requirements.txt`. When pyproject
// already declares deps and no override is given, requirements.txt is
// ignored for the prod set (its entries are still consulted for conflict
// detection by the caller).
func ResolveProdSpecs(req SourceRequest, sourceContents []byte, pyprojectDeps []string, requirementsTxt []string) []string {
	if req.Source != "" {
		return ParseRequirementsTxt(sourceContents)
	}
	if len(pyprojectDeps) > 0 {
		return pyprojectDeps
	}
	return requirementsTxt
}

// ResolveDevSpecs applies the dev-scope precedence rule: `--dev-source >
// pyproject px-dev group > requirements-dev.txt`. When pyproject already
// declares a px-dev group, requirements-dev.txt contributes only entries
// the autopin step still needs (callers pass an empty pxDevGroup to opt
// out of that narrowing).
func ResolveDevSpecs(req SourceRequest, devSourceContents []byte, pxDevGroup []string, requirementsDevTxt []string, autopinRequired func(spec string) bool) []string {
	if req.DevSource != "" {
		return ParseRequirementsTxt(devSourceContents)
	}
	if len(pxDevGroup) > 0 {
		out := append([]string(nil), pxDevGroup...)
		for _, spec := range requirementsDevTxt {
			if autopinRequired != nil && autopinRequired(spec) {
				out = append(out, spec)
			}
		}
		return out
	}
	return requirementsDevTxt
}

// Conflict is a same-name, different-specifier collision across sources
// (spec §4.8 Conflict detection).
type Conflict struct {
	Name        string
	Specifiers  []string
	MultiSource bool // true when the collision spans more than one input family
}

// DetectConflicts finds every normalized name that appears with more than
// one distinct specifier string across the given named spec lists.
func DetectConflicts(sourceSpecs map[string][]string) []Conflict {
	bySource := map[string]map[string]bool{}  // name -> specifier -> true
	sourcesOf := map[string]map[string]bool{} // name -> source -> true
	for source, specs := range sourceSpecs {
		for _, s := range specs {
			name := artifact.NormalizeName(stripName(s))
			if bySource[name] == nil {
				bySource[name] = map[string]bool{}
				sourcesOf[name] = map[string]bool{}
			}
			bySource[name][s] = true
			sourcesOf[name][source] = true
		}
	}
	var out []Conflict
	names := make([]string, 0, len(bySource))
	for name := range bySource {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		specifiers := bySource[name]
		if len(specifiers) <= 1 {
			continue
		}
		specs := make([]string, 0, len(specifiers))
		for s := range specifiers {
			specs = append(specs, s)
		}
		sort.Strings(specs)
		out = append(out, Conflict{
			Name:        name,
			Specifiers:  specs,
			MultiSource: len(sourcesOf[name]) > 1,
		})
	}
	return out
}

func stripName(spec string) string {
	s := spec
	if idx := strings.IndexAny(s, "[<>=!~ ;@"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// Error renders a Conflict the way spec §4.8 distinguishes
// single-source (narrow) vs multi-source (precedence-hinted) messages.
func (c Conflict) Error() string {
	if c.MultiSource {
		return fmt.Sprintf("conflicting specifiers for %q across sources: %v (precedence: --source/--dev-source > pyproject > requirements.txt)", c.Name, c.Specifiers)
	}
	return fmt.Sprintf("conflicting specifiers for %q: %v", c.Name, c.Specifiers)
}
