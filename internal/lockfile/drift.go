package lockfile

import (
	"fmt"
	"os"

	"github.com/pxtool/px/internal/artifact"
	"github.com/pxtool/px/internal/oid"
)

// ChangedDependency records a same-name, different-specifier drift entry.
type ChangedDependency struct {
	Name string
	From string
	To   string
}

// DiffReport is the result of comparing a manifest's dependencies against
// a lock's dependency list (spec §4.3 Drift analysis).
type DiffReport struct {
	Added           []string
	Removed         []string
	Changed         []ChangedDependency
	PythonMismatch  bool
	VersionMismatch bool
	ModeMismatch    bool
	ProjectMismatch bool
}

// IsClean reports whether the diff carries no drift at all.
func (r DiffReport) IsClean() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0 &&
		!r.PythonMismatch && !r.VersionMismatch && !r.ModeMismatch && !r.ProjectMismatch
}

// Summary renders a short one-line count the way the CLI surfaces it,
// e.g. "1 changed" (spec §8 scenario 3).
func (r DiffReport) Summary() string {
	if r.IsClean() {
		return "clean"
	}
	parts := []string{}
	if n := len(r.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d added", n))
	}
	if n := len(r.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", n))
	}
	if n := len(r.Changed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d changed", n))
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// ManifestSpec is the minimal shape AnalyzeDiff needs from a manifest's
// dependency list; internal/manifest.ProjectSnapshot satisfies this via
// its Requirements() method.
type ManifestSpec struct {
	Name      string // normalized name
	Specifier string // full "name==version" or loose spec
}

// AnalyzeDiff compares the manifest's current requirements against the
// lock's dependency list. If manifestFingerprint is non-empty and the
// lock carries one, a fingerprint match short-circuits to "clean" per
// spec §4.3: "If a manifest_fingerprint is present in the lock it is
// authoritative over item-by-item comparison".
func AnalyzeDiff(snap LockSnapshot, manifestFingerprint string, specs []ManifestSpec) DiffReport {
	if snap.ManifestFingerprint != "" && manifestFingerprint != "" {
		if snap.ManifestFingerprint == manifestFingerprint {
			return DiffReport{}
		}
	}

	byName := make(map[string]string, len(specs))
	order := make([]string, 0, len(specs))
	for _, s := range specs {
		name := artifact.NormalizeName(s.Name)
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = s.Specifier
	}

	lockByName := make(map[string]string, len(snap.Dependencies))
	for _, d := range snap.Dependencies {
		lockByName[d.Name] = d.Specifier
	}

	var report DiffReport
	for _, name := range order {
		manifestSpec := byName[name]
		lockSpec, inLock := lockByName[name]
		if !inLock {
			report.Added = append(report.Added, name)
			continue
		}
		if manifestSpec != lockSpec {
			report.Changed = append(report.Changed, ChangedDependency{Name: name, From: lockSpec, To: manifestSpec})
		}
	}
	for name, lockSpec := range lockByName {
		if _, ok := byName[name]; !ok {
			report.Removed = append(report.Removed, name+"=="+specifierVersion(lockSpec))
		}
	}
	return report
}

func specifierVersion(spec string) string {
	for i := 0; i+1 < len(spec); i++ {
		if spec[i] == '=' && spec[i+1] == '=' {
			return spec[i+2:]
		}
	}
	return spec
}

// VerifyIssue describes one artifact-verification failure (spec §4.3
// Verify artifacts).
type VerifyIssue struct {
	Name    string
	Message string
}

// VerifyLockedArtifacts checks every resolved dependency with a
// cached_path: the file must exist, its sha256 must match, and its size
// must match. Returns an empty slice when everything verifies (spec §8:
// "verifying the lock returns an empty issue list").
func VerifyLockedArtifacts(snap LockSnapshot) []VerifyIssue {
	var issues []VerifyIssue
	for _, d := range snap.Dependencies {
		a := d.Artifact
		if a.CachedPath == "" {
			continue
		}
		data, err := os.ReadFile(a.CachedPath)
		if err != nil {
			issues = append(issues, VerifyIssue{Name: d.Name, Message: fmt.Sprintf("missing cached artifact: %v", err)})
			continue
		}
		if int64(len(data)) != a.Size {
			issues = append(issues, VerifyIssue{Name: d.Name, Message: fmt.Sprintf("size mismatch: expected %d, got %d", a.Size, len(data))})
			continue
		}
		got := oid.DigestBytes(data)
		if got != a.SHA256 {
			issues = append(issues, VerifyIssue{Name: d.Name, Message: fmt.Sprintf("sha256 mismatch: expected %s, got %s", a.SHA256, got)})
		}
	}
	return issues
}
