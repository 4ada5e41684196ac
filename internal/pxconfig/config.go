// Package pxconfig loads environment-driven configuration the way the
// teacher's internal/service/config.go and go-control-plane/internal/
// config/config.go do: a flat struct, a FromEnv constructor, small
// getenv/getenvBool/getenvInt helpers, inline defaults.
package pxconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the environment variables consumed by the core (spec §6).
type Config struct {
	Online              bool
	CachePath           string
	IndexURL            string
	PipIndexURL         string
	PipExtraIndexURL    string
	Groups              []string
	KeepProxies         bool
	TestMigrateCrash    string
	StdlibStagingRoot   string
	PythonPycachePrefix string
	CI                  bool
	TestReporter        string
}

// FromEnv populates Config from the process environment with sensible
// defaults, mirroring the teacher's FromEnv functions.
func FromEnv() Config {
	home, _ := os.UserHomeDir()
	defaultCache := filepath.Join(home, ".px", "store")
	return Config{
		Online:              getenvBool("PX_ONLINE", false),
		CachePath:           getenv("PX_CACHE_PATH", defaultCache),
		IndexURL:            getenv("PX_INDEX_URL", ""),
		PipIndexURL:         getenv("PIP_INDEX_URL", "https://pypi.org/simple"),
		PipExtraIndexURL:    getenv("PIP_EXTRA_INDEX_URL", ""),
		Groups:              parseCSVOrSpace(getenv("PX_GROUPS", "")),
		KeepProxies:         getenvBool("PX_KEEP_PROXIES", false),
		TestMigrateCrash:    getenv("PX_TEST_MIGRATE_CRASH", ""),
		StdlibStagingRoot:   getenv("PX_STDLIB_STAGING_ROOT", ""),
		PythonPycachePrefix: getenv("PYTHONPYCACHEPREFIX", ""),
		CI:                  getenvBool("CI", false),
		TestReporter:        getenv("PX_TEST_REPORTER", ""),
	}
}

// ResolvedIndexURL returns the package-index base URL honoring PX_INDEX_URL
// over PIP_INDEX_URL, matching the precedence implied by spec §6.
func (c Config) ResolvedIndexURL() string {
	if c.IndexURL != "" {
		return c.IndexURL
	}
	return c.PipIndexURL
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off", "":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func parseCSVOrSpace(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
