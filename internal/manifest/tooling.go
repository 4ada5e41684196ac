package manifest

import "strings"

// EnsureToolingRequirements appends `tomli-w>=1.0.0` to the px-dev
// optional group when the build backend is hatchling and tomli-w isn't
// already declared anywhere (spec §4.4 Tooling requirements).
func EnsureToolingRequirements(e *Editor, data []byte, snap ProjectSnapshot) error {
	backend, err := BuildBackend(data)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(backend), "hatchling") {
		return nil
	}
	if declaresTomliW(snap) {
		return nil
	}
	group := append([]string(nil), snap.OptionalDependencies["px-dev"]...)
	group = append(group, "tomli-w>=1.0.0")
	return e.writeOptionalDependenciesGroup("px-dev", group)
}

func declaresTomliW(snap ProjectSnapshot) bool {
	has := func(specs []string) bool {
		for _, s := range specs {
			if NormalizedName(s) == "tomli-w" {
				return true
			}
		}
		return false
	}
	if has(snap.Dependencies) {
		return true
	}
	for _, specs := range snap.OptionalDependencies {
		if has(specs) {
			return true
		}
	}
	for _, specs := range snap.PoetryGroups {
		if has(specs) {
			return true
		}
	}
	return false
}

// writeOptionalDependenciesGroup rewrites one
// `[project.optional-dependencies]` array-style table entry
// (`name = [...]`) inside that table, creating the table if needed.
func (e *Editor) writeOptionalDependenciesGroup(name string, items []string) error {
	header := "[project.optional-dependencies]"
	start, end, ok := e.tableBounds(header)
	if !ok {
		e.lines = append(e.lines, "", header)
		e.lines = append(e.lines, renderArray(name, items)...)
		return nil
	}
	first, last, ok := e.findArrayAssignment(start, end, name)
	if !ok {
		e.replaceLines(start, start-1, renderArray(name, items))
		return nil
	}
	e.replaceLines(first, last, renderArray(name, items))
	return nil
}
