// Package producers implements the artifact producers described in spec
// §4.2: a wheel selector, an sdist/workspace builder, and a bounded
// download pool. Grounded on the teacher's builder.go (shell-out-to-one-
// command pattern) and pack/catalog.go (rule-matched catalog shape).
package producers

import "strings"

// Tags is an interpreter tag triple: python_tag, abi_tag, platform_tag.
type Tags struct {
	Python   string
	ABI      string
	Platform string
}

// archAliases groups equivalent architecture spellings recognized when
// matching a wheel's platform_tag against the running interpreter's
// (spec §4.2 point 3).
var archAliases = map[string]string{
	"amd64":   "x86_64",
	"x86_64":  "x86_64",
	"arm64":   "aarch64",
	"aarch64": "aarch64",
	"armv6l":  "armv6l",
	"armv7l":  "armv7l",
	"i386":    "i686",
	"i686":    "i686",
	"ppc64le": "ppc64le",
	"s390x":   "s390x",
}

var platformFamilies = []string{"linux", "macosx", "win"}

// platformMatches reports whether wheelPlatform is compatible with
// runningPlatform, recognizing "any", arch aliases, and OS families
// (linux*, macosx*, win*).
func platformMatches(wheelPlatform, runningPlatform string) bool {
	if wheelPlatform == "any" {
		return true
	}
	if wheelPlatform == runningPlatform {
		return true
	}
	wArch, wFamily := splitPlatformTag(wheelPlatform)
	rArch, rFamily := splitPlatformTag(runningPlatform)
	if wFamily != rFamily {
		return false
	}
	return canonicalArch(wArch) == canonicalArch(rArch) && canonicalArch(wArch) != ""
}

func canonicalArch(arch string) string {
	if canon, ok := archAliases[strings.ToLower(arch)]; ok {
		return canon
	}
	return ""
}

// splitPlatformTag splits a platform tag like "manylinux2014_s390x" into
// its family prefix ("manylinux2014" normalized to "linux") and trailing
// arch component.
func splitPlatformTag(tag string) (arch, family string) {
	lower := strings.ToLower(tag)
	for _, fam := range platformFamilies {
		if strings.HasPrefix(strings.TrimPrefix(lower, "many"), fam) {
			idx := strings.LastIndex(lower, "_")
			if idx >= 0 && idx < len(lower)-1 {
				return lower[idx+1:], fam
			}
			return "", fam
		}
	}
	idx := strings.LastIndex(lower, "_")
	if idx >= 0 && idx < len(lower)-1 {
		return lower[idx+1:], lower[:idx]
	}
	return "", lower
}
