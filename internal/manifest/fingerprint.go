package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/pxtool/px/internal/artifact"
)

// ComputeFingerprint hashes exactly the documented inputs (spec §3
// Manifest fingerprint): project name (lowercased, trimmed), python
// requirement, sorted deduped dependency specs, sorted normalized active
// group names, the optional `[tool.px].python`, `manage-command`, sorted
// `plugin-imports`, and sorted `env` key=value pairs. Anything else in
// the manifest — comments, formatting, unrelated tool sections — must
// not affect this value (spec §8 invariant).
func ComputeFingerprint(s ProjectSnapshot) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}
	write(strings.ToLower(strings.TrimSpace(s.Name)))
	write(s.PythonRequirement)

	deps := dedupeSorted(s.Dependencies)
	write(deps...)

	groups := append([]string(nil), s.DependencyGroups...)
	sort.Strings(groups)
	write(groups...)

	write(s.PxOptions.Python)
	write(s.PxOptions.ManageCommand)

	plugins := append([]string(nil), s.PxOptions.PluginImports...)
	sort.Strings(plugins)
	write(plugins...)

	envKeys := make([]string, 0, len(s.PxOptions.Env))
	for k := range s.PxOptions.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		write(k + "=" + s.PxOptions.Env[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// HasConstraint reports whether spec already carries a version constraint
// operator, used by AddSpecs' "don't loosen" rule (spec §4.4).
func HasConstraint(spec string) bool {
	return strings.ContainsAny(spec, "<>=!~@")
}

// NormalizedName is a small re-export so callers needn't import
// internal/artifact solely for name normalization.
func NormalizedName(spec string) string {
	return artifact.NormalizeName(stripSpec(spec))
}
