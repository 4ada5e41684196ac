package planner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ConsoleScriptIndex maps a console-script name to the dist-info
// directories that declare it, built from `*.dist-info/entry_points.txt`
// files under a site directory (spec §4.6 step 5).
type ConsoleScriptIndex map[string][]ConsoleScriptEntry

// ConsoleScriptEntry is one `[console_scripts]` declaration.
type ConsoleScriptEntry struct {
	DistInfoDir string
	Module      string
	Attr        string
}

// BuildConsoleScriptIndex scans site for `*.dist-info/entry_points.txt`
// files and parses their `[console_scripts]` sections.
func BuildConsoleScriptIndex(site string) (ConsoleScriptIndex, error) {
	idx := ConsoleScriptIndex{}
	entries, err := os.ReadDir(site)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, err
	}
	var distInfos []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), ".dist-info") {
			distInfos = append(distInfos, e.Name())
		}
	}
	sort.Strings(distInfos)
	for _, d := range distInfos {
		path := filepath.Join(site, d, "entry_points.txt")
		entriesFile, err := parseEntryPoints(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for name, target := range entriesFile {
			mod, attr, _ := strings.Cut(target, ":")
			idx[name] = append(idx[name], ConsoleScriptEntry{DistInfoDir: d, Module: mod, Attr: attr})
		}
	}
	return idx, nil
}

func parseEntryPoints(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := map[string]string{}
	inSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = line == "[console_scripts]"
			continue
		}
		if !inSection {
			continue
		}
		name, target, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(target)
	}
	return out, scanner.Err()
}

// Resolve looks up name, returning a stable ambiguous-console-script
// error when more than one dist-info declares the same script name
// (spec §4.6: "Multiple candidates for a single script name →
// ambiguous-console-script user error").
func (idx ConsoleScriptIndex) Resolve(name string) (ConsoleScriptEntry, error) {
	candidates, ok := idx[name]
	if !ok || len(candidates) == 0 {
		return ConsoleScriptEntry{}, fmt.Errorf("console script %q not found", name)
	}
	if len(candidates) > 1 {
		dirs := make([]string, len(candidates))
		for i, c := range candidates {
			dirs[i] = c.DistInfoDir
		}
		return ConsoleScriptEntry{}, fmt.Errorf("ambiguous_console_script: %q declared by %s", name, strings.Join(dirs, ", "))
	}
	return candidates[0], nil
}
