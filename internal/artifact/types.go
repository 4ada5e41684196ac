// Package artifact holds the CAS-adjacent data model shared across the
// store, the producers, and the lockfile engine: object index rows, owner
// references, pin specifications, and resolved/locked artifacts (spec §3).
package artifact

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pxtool/px/internal/oid"
)

// ObjectInfo is the authoritative index row for a stored object.
type ObjectInfo struct {
	OID          string
	Kind         oid.Kind
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
}

// OwnerType enumerates who may pin an OID against GC.
type OwnerType string

const (
	OwnerProjectEnv   OwnerType = "project-env"
	OwnerWorkspaceEnv OwnerType = "workspace-env"
	OwnerToolEnv      OwnerType = "tool-env"
	OwnerProfile      OwnerType = "profile"
	OwnerRuntime      OwnerType = "runtime"
)

// OwnerID identifies a GC root owner.
type OwnerID struct {
	Type OwnerType
	ID   string
}

func (o OwnerID) String() string { return string(o.Type) + ":" + o.ID }

// PinSpec is a parsed `name==version` specification, with canonical name,
// extras, optional marker, and optional direct source.
type PinSpec struct {
	Name      string // canonical (PEP 503 normalized) name
	Version   string
	Extras    []string
	Marker    string
	DirectURL string
	Directory string
}

// NormalizeName applies PEP 503 normalization: lowercase, runs of
// [-_.] collapsed to a single '-'.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		if r == '-' || r == '_' || r == '.' {
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
			continue
		}
		b.WriteRune(r)
		lastDash = false
	}
	return strings.Trim(b.String(), "-")
}

// ParsePinSpec parses `name==version[extra1,extra2]; marker` style specs.
// Exactly one `==` operator is required; anything else is a loose spec and
// ParsePinSpec returns an error so callers can route it to autopin instead.
func ParsePinSpec(raw string) (PinSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return PinSpec{}, fmt.Errorf("artifact: empty pin spec")
	}
	marker := ""
	if idx := strings.Index(s, ";"); idx >= 0 {
		marker = strings.TrimSpace(s[idx+1:])
		s = strings.TrimSpace(s[:idx])
	}
	name := s
	extras := []string(nil)
	if idx := strings.Index(s, "["); idx >= 0 {
		end := strings.Index(s, "]")
		if end < idx {
			return PinSpec{}, fmt.Errorf("artifact: unterminated extras in %q", raw)
		}
		name = s[:idx] + s[end+1:]
		extras = splitExtras(s[idx+1 : end])
	}
	if strings.Count(name, "==") != 1 {
		return PinSpec{}, fmt.Errorf("artifact: expected exactly one '==' operator in %q", raw)
	}
	parts := strings.SplitN(name, "==", 2)
	return PinSpec{
		Name:    NormalizeName(parts[0]),
		Version: strings.TrimSpace(parts[1]),
		Extras:  extras,
		Marker:  marker,
	}, nil
}

func splitExtras(raw string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range strings.Split(raw, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Specifier renders the `name==version` form, without extras/markers.
func (p PinSpec) Specifier() string { return p.Name + "==" + p.Version }

// IsDirectURL reports whether this pin is sourced from a direct URL or
// directory rather than a registry version.
func (p PinSpec) IsDirectURL() bool { return p.DirectURL != "" || p.Directory != "" }

// LockedArtifact is the resolved, content-addressed artifact backing a pin.
type LockedArtifact struct {
	Filename         string
	URL              string
	SHA256           string
	Size             int64
	CachedPath       string
	PythonTag        string
	ABITag           string
	PlatformTag      string
	BuildOptionsHash string
	IsDirectURL      bool
}

// ResolvedDependency couples a pin with its locked artifact and transitive
// requirement names.
type ResolvedDependency struct {
	Spec     PinSpec
	Artifact LockedArtifact
	Requires []string // normalized names
}
