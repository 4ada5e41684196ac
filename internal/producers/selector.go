package producers

import (
	"sort"
	"strings"

	"github.com/pxtool/px/internal/pypi"
)

// SelectWheel picks the best wheel file for the running interpreter's tag
// triple from a PyPI file listing (spec §4.2):
//
//  1. Any universal py3-none-any wins outright.
//  2. Otherwise score: python_tag match +100, py3* +50; abi exact +40,
//     none +20; platform_tag=any +30, exact-match +25. Highest score
//     wins; ties broken by lexicographically smallest filename.
//  3. Platform matching recognizes arch aliases and OS families.
//
// Returns ok=false if no wheel is supported (caller falls back to sdist).
func SelectWheel(files []pypi.File, running Tags) (pypi.File, bool) {
	var candidates []pypi.File
	for _, f := range files {
		if f.PackageType != "" && f.PackageType != "bdist_wheel" {
			continue
		}
		if f.PythonTag == "" {
			continue // not a wheel (e.g. sdist without explicit package_type)
		}
		candidates = append(candidates, f)
	}

	for _, f := range candidates {
		if f.PythonTag == "py3" && f.ABITag == "none" && f.PlatformTag == "any" {
			return f, true
		}
	}

	best := pypi.File{}
	bestScore := -1
	for _, f := range candidates {
		score, supported := scoreWheel(f, running)
		if !supported {
			continue
		}
		if score > bestScore || (score == bestScore && f.Filename < best.Filename) {
			best = f
			bestScore = score
		}
	}
	if bestScore < 0 {
		return pypi.File{}, false
	}
	return best, true
}

func scoreWheel(f pypi.File, running Tags) (score int, supported bool) {
	if !platformMatches(f.PlatformTag, running.Platform) {
		return 0, false
	}
	if f.PythonTag == running.Python {
		score += 100
	} else if strings.HasPrefix(f.PythonTag, "py3") {
		score += 50
	} else {
		return 0, false
	}
	switch {
	case f.ABITag == running.ABI:
		score += 40
	case f.ABITag == "none":
		score += 20
	default:
		return 0, false
	}
	if f.PlatformTag == "any" {
		score += 30
	} else {
		// platformMatches already confirmed arch/family compatibility above;
		// the spec scores any non-"any" compatible match as exact-match.
		score += 25
	}
	return score, true
}

// SortedFilenames is a small helper used by tests and debug logging to
// present a deterministic candidate ordering.
func SortedFilenames(files []pypi.File) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	sort.Strings(names)
	return names
}
