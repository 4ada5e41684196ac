package manifest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Editor performs format-preserving edits on a pyproject.toml document's
// dependency array and `[tool.px]` table: it locates the relevant region
// by a table-aware line scan and rewrites only that region, leaving every
// comment and surrounding table untouched (spec §4.4: "Reads and writes
// pyproject.toml preserving comments and formatting"). This is the one
// place in the codebase that edits TOML as text instead of through
// go-toml/v2 — see DESIGN.md's standard-library-only justification.
type Editor struct {
	lines []string
}

// NewEditor wraps raw pyproject.toml bytes for editing.
func NewEditor(data []byte) *Editor {
	return &Editor{lines: strings.Split(string(data), "\n")}
}

// Bytes renders the current document.
func (e *Editor) Bytes() []byte {
	return []byte(strings.Join(e.lines, "\n"))
}

// tableBounds returns the [start,end) line range belonging to the table
// whose header exactly matches header (e.g. "[project]"), i.e. from the
// header line (exclusive) to the next top-level or array-of-tables
// header (exclusive), or len(lines) if none follows. ok=false if the
// table isn't present.
func (e *Editor) tableBounds(header string) (start, end int, ok bool) {
	for i, line := range e.lines {
		if strings.TrimSpace(line) == header {
			start = i + 1
			end = len(e.lines)
			for j := start; j < len(e.lines); j++ {
				t := strings.TrimSpace(e.lines[j])
				if strings.HasPrefix(t, "[") {
					end = j
					break
				}
			}
			return start, end, true
		}
	}
	return 0, 0, false
}

// findArrayAssignment locates `name = [` ... `]` within [start,end),
// returning the line indices of the assignment's first and last line.
func (e *Editor) findArrayAssignment(start, end int, name string) (first, last int, ok bool) {
	prefix := name + " ="
	for i := start; i < end; i++ {
		t := strings.TrimSpace(e.lines[i])
		if !strings.HasPrefix(t, prefix) {
			continue
		}
		depth := 0
		seenOpen := false
		for j := i; j < end; j++ {
			for _, r := range e.lines[j] {
				switch r {
				case '[':
					depth++
					seenOpen = true
				case ']':
					depth--
				}
			}
			if seenOpen && depth <= 0 {
				return i, j, true
			}
		}
		return i, i, true
	}
	return 0, 0, false
}

// renderArray renders `name = [...]` across one or more lines, one
// element per line when there is more than one, matching common
// pyproject formatting.
func renderArray(name string, items []string) []string {
	if len(items) == 0 {
		return []string{fmt.Sprintf("%s = []", name)}
	}
	if len(items) == 1 {
		return []string{fmt.Sprintf("%s = [%s]", name, strconv.Quote(items[0]))}
	}
	out := []string{fmt.Sprintf("%s = [", name)}
	for _, it := range items {
		out = append(out, fmt.Sprintf("    %s,", strconv.Quote(it)))
	}
	out = append(out, "]")
	return out
}

func (e *Editor) replaceLines(first, last int, replacement []string) {
	tail := append([]string(nil), e.lines[last+1:]...)
	e.lines = append(e.lines[:first], append(replacement, tail...)...)
}

// Dependencies returns the current `[project].dependencies` array values.
func (e *Editor) Dependencies() []string {
	start, end, ok := e.tableBounds("[project]")
	if !ok {
		return nil
	}
	first, last, ok := e.findArrayAssignment(start, end, "dependencies")
	if !ok {
		return nil
	}
	return parseStringArray(strings.Join(e.lines[first:last+1], "\n"), "dependencies")
}

// AddSpecs upserts specs by normalized name (spec §4.4 AddSpecs): if the
// current entry already carries a version constraint and the incoming
// spec doesn't, the current entry is kept ("don't loosen"). The array is
// re-sorted by normalized name then full spec, and deduped.
func (e *Editor) AddSpecs(specs []string) (added, updated []string, err error) {
	current := e.Dependencies()
	byName := map[string]string{}
	order := []string{}
	for _, c := range current {
		name := NormalizedName(c)
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = c
	}
	for _, s := range specs {
		name := NormalizedName(s)
		existing, exists := byName[name]
		if !exists {
			byName[name] = s
			order = append(order, name)
			added = append(added, s)
			continue
		}
		if existing == s {
			continue
		}
		if HasConstraint(existing) && !HasConstraint(s) {
			continue // don't loosen
		}
		byName[name] = s
		updated = append(updated, s)
	}
	out := make([]string, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := NormalizedName(out[i]), NormalizedName(out[j])
		if ni != nj {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return added, updated, e.writeDependenciesArray(out)
}

// RemoveSpecs removes entries by normalized name, reporting only the
// names that were actually present (spec §4.4 RemoveSpecs).
func (e *Editor) RemoveSpecs(specs []string) (removed []string, err error) {
	current := e.Dependencies()
	toRemove := map[string]bool{}
	for _, s := range specs {
		toRemove[NormalizedName(s)] = true
	}
	var out []string
	for _, c := range current {
		name := NormalizedName(c)
		if toRemove[name] {
			removed = append(removed, name)
			continue
		}
		out = append(out, c)
	}
	return removed, e.writeDependenciesArray(out)
}

// WriteDependencies replaces the dependency array wholesale (used during
// autopin writeback, spec §4.3/§4.4).
func (e *Editor) WriteDependencies(specs []string) error {
	out := append([]string(nil), specs...)
	sort.Slice(out, func(i, j int) bool {
		ni, nj := NormalizedName(out[i]), NormalizedName(out[j])
		if ni != nj {
			return ni < nj
		}
		return out[i] < out[j]
	})
	return e.writeDependenciesArray(out)
}

func (e *Editor) writeDependenciesArray(items []string) error {
	start, end, ok := e.tableBounds("[project]")
	if !ok {
		return fmt.Errorf("manifest: no [project] table found")
	}
	first, last, ok := e.findArrayAssignment(start, end, "dependencies")
	if !ok {
		// no existing array: insert right after the table header.
		e.replaceLines(start, start-1, renderArray("dependencies", items))
		return nil
	}
	e.replaceLines(first, last, renderArray("dependencies", items))
	return nil
}

// SetToolPython upserts `[tool.px].python`, creating the table if absent.
// Returns whether the value actually changed.
func (e *Editor) SetToolPython(version string) (changed bool, err error) {
	start, end, ok := e.tableBounds("[tool.px]")
	if !ok {
		e.lines = append(e.lines, "", "[tool.px]", fmt.Sprintf("python = %s", strconv.Quote(version)))
		return true, nil
	}
	for i := start; i < end; i++ {
		t := strings.TrimSpace(e.lines[i])
		if strings.HasPrefix(t, "python ") || strings.HasPrefix(t, "python=") {
			current := parseStringValue(t)
			if current == version {
				return false, nil
			}
			e.lines[i] = fmt.Sprintf("python = %s", strconv.Quote(version))
			return true, nil
		}
	}
	// table exists but has no python key yet: insert right after header.
	e.replaceLines(start, start-1, []string{fmt.Sprintf("python = %s", strconv.Quote(version))})
	return true, nil
}

func parseStringValue(assignment string) string {
	idx := strings.Index(assignment, "=")
	if idx < 0 {
		return ""
	}
	v := strings.TrimSpace(assignment[idx+1:])
	unquoted, err := strconv.Unquote(v)
	if err != nil {
		return strings.Trim(v, `"'`)
	}
	return unquoted
}

// parseStringArray parses a `name = [ "a", "b" ]` (possibly multi-line)
// fragment into its string elements, tolerating trailing commas.
func parseStringArray(fragment, name string) []string {
	idx := strings.Index(fragment, "[")
	end := strings.LastIndex(fragment, "]")
	if idx < 0 || end < idx {
		return nil
	}
	body := fragment[idx+1 : end]
	var out []string
	var cur strings.Builder
	inStr := false
	var quote byte
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case inStr:
			cur.WriteByte(c)
			if c == quote && (i == 0 || body[i-1] != '\\') {
				inStr = false
			}
		case c == '"' || c == '\'':
			inStr = true
			quote = c
			cur.WriteByte(c)
		case c == ',':
			if s := strings.TrimSpace(cur.String()); s != "" {
				if unquoted, err := strconv.Unquote(s); err == nil {
					out = append(out, unquoted)
				}
			}
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		if unquoted, err := strconv.Unquote(s); err == nil {
			out = append(out, unquoted)
		}
	}
	return out
}
