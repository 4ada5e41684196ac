package lockfile

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/pxtool/px/internal/artifact"
)

// tomlArtifact mirrors artifact.LockedArtifact's field set for TOML
// (de)serialization under each dependency's [artifact] table.
type tomlArtifact struct {
	Filename         string `toml:"filename"`
	URL              string `toml:"url"`
	SHA256           string `toml:"sha256"`
	Size             int64  `toml:"size"`
	CachedPath       string `toml:"cached_path,omitempty"`
	PythonTag        string `toml:"python_tag,omitempty"`
	ABITag           string `toml:"abi_tag,omitempty"`
	PlatformTag      string `toml:"platform_tag,omitempty"`
	BuildOptionsHash string `toml:"build_options_hash,omitempty"`
	IsDirectURL      bool   `toml:"is_direct_url,omitempty"`
}

type tomlDependency struct {
	Name      string       `toml:"name"`
	Specifier string       `toml:"specifier"`
	Extras    []string     `toml:"extras,omitempty"`
	Marker    string       `toml:"marker,omitempty"`
	Artifact  tomlArtifact `toml:"artifact"`
}

type tomlMetadata struct {
	PxVersion string `toml:"px_version"`
	CreatedAt string `toml:"created_at"`
	Mode      string `toml:"mode"`
}

type tomlProject struct {
	Name string `toml:"name"`
}

type tomlPython struct {
	Requirement string `toml:"requirement"`
}

type tomlGraphNode struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Marker  string   `toml:"marker,omitempty"`
	Extras  []string `toml:"extras,omitempty"`
	Parents []string `toml:"parents,omitempty"`
}

type tomlGraphTarget struct {
	ID          string `toml:"id"`
	PythonTag   string `toml:"python_tag"`
	ABITag      string `toml:"abi_tag"`
	PlatformTag string `toml:"platform_tag"`
}

type tomlGraphArtifact struct {
	Node     string       `toml:"node"`
	Target   string       `toml:"target"`
	Artifact tomlArtifact `toml:"artifact"`
}

type tomlGraph struct {
	Nodes     []tomlGraphNode     `toml:"nodes"`
	Targets   []tomlGraphTarget   `toml:"targets"`
	Artifacts []tomlGraphArtifact `toml:"artifacts"`
}

type tomlDocument struct {
	Version      int              `toml:"version"`
	Metadata     tomlMetadata     `toml:"metadata"`
	Project      tomlProject      `toml:"project"`
	Python       tomlPython       `toml:"python"`
	LockID       string           `toml:"lock_id,omitempty"`
	Fingerprint  string           `toml:"manifest_fingerprint,omitempty"`
	Dependencies []tomlDependency `toml:"dependencies"`
	Graph        *tomlGraph       `toml:"graph,omitempty"`
}

// Render encodes snap as canonical TOML. version must be 1 or 2; v2 adds
// the [graph] table (spec §4.3 Render v1/v2).
func Render(snap LockSnapshot, version int) ([]byte, error) {
	SortDependencies(snap.Dependencies)
	doc := toDocument(snap)
	doc.Version = version
	if version == 1 {
		doc.Graph = nil
	}
	return toml.Marshal(doc)
}

func toDocument(snap LockSnapshot) tomlDocument {
	deps := make([]tomlDependency, len(snap.Dependencies))
	for i, d := range snap.Dependencies {
		deps[i] = tomlDependency{
			Name:      d.Name,
			Specifier: d.Specifier,
			Extras:    CanonicalizeExtras(d.Extras),
			Marker:    d.Marker,
			Artifact:  toTOMLArtifact(d.Artifact),
		}
	}
	doc := tomlDocument{
		Version: snap.Version,
		Metadata: tomlMetadata{
			PxVersion: snap.PxVersion,
			CreatedAt: snap.CreatedAt.UTC().Format(time.RFC3339),
			Mode:      snap.Mode,
		},
		Project:      tomlProject{Name: snap.ProjectName},
		Python:       tomlPython{Requirement: snap.PythonRequirement},
		LockID:       snap.LockID,
		Fingerprint:  snap.ManifestFingerprint,
		Dependencies: deps,
	}
	if snap.Graph != nil {
		doc.Graph = toTOMLGraph(snap.Graph)
	}
	return doc
}

func toTOMLArtifact(a artifact.LockedArtifact) tomlArtifact {
	return tomlArtifact{
		Filename:         a.Filename,
		URL:              a.URL,
		SHA256:           a.SHA256,
		Size:             a.Size,
		CachedPath:       a.CachedPath,
		PythonTag:        a.PythonTag,
		ABITag:           a.ABITag,
		PlatformTag:      a.PlatformTag,
		BuildOptionsHash: a.BuildOptionsHash,
		IsDirectURL:      a.IsDirectURL,
	}
}

func fromTOMLArtifact(a tomlArtifact) artifact.LockedArtifact {
	return artifact.LockedArtifact{
		Filename:         a.Filename,
		URL:              a.URL,
		SHA256:           a.SHA256,
		Size:             a.Size,
		CachedPath:       a.CachedPath,
		PythonTag:        a.PythonTag,
		ABITag:           a.ABITag,
		PlatformTag:      a.PlatformTag,
		BuildOptionsHash: a.BuildOptionsHash,
		IsDirectURL:      a.IsDirectURL,
	}
}

func toTOMLGraph(g *Graph) *tomlGraph {
	nodes := make([]tomlGraphNode, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = tomlGraphNode{Name: n.Name, Version: n.Version, Marker: n.Marker, Extras: CanonicalizeExtras(n.Extras), Parents: n.Parents}
	}
	targets := make([]tomlGraphTarget, len(g.Targets))
	for i, t := range g.Targets {
		targets[i] = tomlGraphTarget{ID: t.ID, PythonTag: t.PythonTag, ABITag: t.ABITag, PlatformTag: t.PlatformTag}
	}
	arts := make([]tomlGraphArtifact, len(g.Artifacts))
	for i, a := range g.Artifacts {
		arts[i] = tomlGraphArtifact{Node: a.Node, Target: a.Target, Artifact: toTOMLArtifact(a.Artifact)}
	}
	return &tomlGraph{Nodes: nodes, Targets: targets, Artifacts: arts}
}

// Parse accepts both v1 and v2 documents in the `[[dependencies]]`
// table-list form (spec §4.3 Parse). A plain `dependencies = [...]`
// string array is not accepted: such a document fails to decode. v2
// graphs are normalized back to a v1-equivalent dependencies list for
// compatibility.
func Parse(data []byte) (LockSnapshot, error) {
	var doc tomlDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return LockSnapshot{}, fmt.Errorf("lockfile: parse: %w", err)
	}
	createdAt, _ := time.Parse(time.RFC3339, doc.Metadata.CreatedAt)
	snap := LockSnapshot{
		Version:             doc.Version,
		PxVersion:           doc.Metadata.PxVersion,
		CreatedAt:           createdAt,
		Mode:                doc.Metadata.Mode,
		ProjectName:         doc.Project.Name,
		PythonRequirement:   doc.Python.Requirement,
		LockID:              doc.LockID,
		ManifestFingerprint: doc.Fingerprint,
	}
	for _, d := range doc.Dependencies {
		snap.Dependencies = append(snap.Dependencies, Dependency{
			Name:      d.Name,
			Specifier: d.Specifier,
			Extras:    d.Extras,
			Marker:    d.Marker,
			Artifact:  fromTOMLArtifact(d.Artifact),
		})
	}
	if doc.Graph != nil {
		snap.Graph = fromTOMLGraph(doc.Graph)
		mergeGraphIntoDependencies(&snap)
	}
	if snap.LockID == "" {
		canon, err := Render(snap, snap.Version)
		if err == nil {
			snap.LockID = ComputeLockID(canon)
		}
	}
	return snap, nil
}

// mergeGraphIntoDependencies normalizes a v2 graph back to a flat
// dependencies list when the document didn't already carry one (spec
// §4.3: "Parsing v2 normalizes back to a v1-equivalent dependencies
// list + resolved set for compatibility").
func mergeGraphIntoDependencies(snap *LockSnapshot) {
	if len(snap.Dependencies) > 0 || snap.Graph == nil {
		return
	}
	artifactByNode := map[string]artifact.LockedArtifact{}
	for _, a := range snap.Graph.Artifacts {
		artifactByNode[a.Node] = fromTOMLArtifact(a.Artifact)
	}
	for _, n := range snap.Graph.Nodes {
		snap.Dependencies = append(snap.Dependencies, Dependency{
			Name:      n.Name,
			Specifier: n.Name + "==" + n.Version,
			Extras:    n.Extras,
			Marker:    n.Marker,
			Artifact:  artifactByNode[n.Name],
		})
	}
	SortDependencies(snap.Dependencies)
}

func fromTOMLGraph(g *tomlGraph) *Graph {
	nodes := make([]GraphNode, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = GraphNode{Name: n.Name, Version: n.Version, Marker: n.Marker, Extras: n.Extras, Parents: n.Parents}
	}
	targets := make([]GraphTarget, len(g.Targets))
	for i, t := range g.Targets {
		targets[i] = GraphTarget{ID: t.ID, PythonTag: t.PythonTag, ABITag: t.ABITag, PlatformTag: t.PlatformTag}
	}
	arts := make([]GraphArtifact, len(g.Artifacts))
	for i, a := range g.Artifacts {
		arts[i] = GraphArtifact{Node: a.Node, Target: a.Target, Artifact: fromTOMLArtifact(a.Artifact)}
	}
	return &Graph{Nodes: nodes, Targets: targets, Artifacts: arts}
}
