package producers

import "testing"

func TestPlatformMatchesArchAliases(t *testing.T) {
	cases := []struct {
		wheel, running string
		want           bool
	}{
		{"manylinux2014_i386", "linux_i386", true},
		{"linux_armv6l", "manylinux_armv6l", true},
		{"manylinux2014_x86_64", "linux_x86_64", true},
		{"manylinux2014_s390x", "linux_aarch64", false},
	}
	for _, c := range cases {
		if got := platformMatches(c.wheel, c.running); got != c.want {
			t.Errorf("platformMatches(%q, %q) = %v, want %v", c.wheel, c.running, got, c.want)
		}
	}
}

func TestCanonicalArchRecognizesAllAliases(t *testing.T) {
	for _, arch := range []string{"amd64", "x86_64", "arm64", "aarch64", "armv6l", "armv7l", "i386", "i686", "ppc64le", "s390x"} {
		if canonicalArch(arch) == "" {
			t.Errorf("canonicalArch(%q) = \"\", expected a recognized alias", arch)
		}
	}
}
