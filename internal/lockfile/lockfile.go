// Package lockfile implements the lock data model, TOML render/parse,
// drift analysis, artifact verification, and autopin described in spec
// §4.3. The render/parse shape is split out of the teacher's
// plan/plan.go ("Snapshot", written/loaded as one document) and
// generalized to the px lock's v1/v2 duality.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/pxtool/px/internal/artifact"
)

// Dependency is one locked `[[dependencies]]` entry.
type Dependency struct {
	Name      string
	Specifier string
	Extras    []string
	Marker    string
	Artifact  artifact.LockedArtifact
}

// GraphNode is one `[[graph.nodes]]` entry (v2 only).
type GraphNode struct {
	Name    string
	Version string
	Marker  string
	Extras  []string
	Parents []string
}

// GraphTarget is one `[[graph.targets]]` entry: an interpreter tag triple.
type GraphTarget struct {
	ID          string
	PythonTag   string
	ABITag      string
	PlatformTag string
}

// GraphArtifact links a node+target pair to its locked artifact.
type GraphArtifact struct {
	Node     string
	Target   string
	Artifact artifact.LockedArtifact
}

// Graph is the v2 `[graph]` table.
type Graph struct {
	Nodes     []GraphNode
	Targets   []GraphTarget
	Artifacts []GraphArtifact
}

// Mode names the lock's resolution mode, e.g. "p0-pinned".
const ModePinned = "p0-pinned"

// LockSnapshot is the full in-memory representation of a px.lock file.
type LockSnapshot struct {
	Version             int
	PxVersion           string
	CreatedAt           time.Time
	Mode                string
	ProjectName         string
	PythonRequirement   string
	Dependencies        []Dependency
	Graph               *Graph // present only for version 2
	LockID              string
	ManifestFingerprint string
}

// CanonicalizeExtras lowercases, dedupes, and sorts extras (spec §4.3).
func CanonicalizeExtras(extras []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range extras {
		e = normalizeExtra(e)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

func normalizeExtra(e string) string {
	out := make([]byte, 0, len(e))
	for i := 0; i < len(e); i++ {
		c := e[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != ' ' && c != '\t' {
			out = append(out, c)
		}
	}
	return string(out)
}

// SortDependencies sorts by (name, specifier), the order §4.3 requires
// for v1 and v2 rendering.
func SortDependencies(deps []Dependency) {
	sort.Slice(deps, func(i, j int) bool {
		if deps[i].Name != deps[j].Name {
			return deps[i].Name < deps[j].Name
		}
		return deps[i].Specifier < deps[j].Specifier
	})
}

// ComputeLockID computes the lock_id as sha256 over canonicalBytes, used
// when the lock omits an explicit lock_id (spec §4.3).
func ComputeLockID(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:])
}
