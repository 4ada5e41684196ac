package producers

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pxtool/px/internal/pxlog"
)

var archiveLog = pxlog.New("producers")

// deterministicMtime is the fixed timestamp (1980-01-01 00:00:00 UTC,
// 315532800) stamped on every archive entry so identical inputs produce
// byte-identical output (spec §4.2).
const deterministicMtime = 315532800

// skippedDirs is the fixed set of cache/dev directories excluded from the
// workspace→sdist archive (spec §4.2).
var skippedDirs = map[string]bool{
	".git": true, ".px": true, "__pycache__": true, ".pytest_cache": true,
	".mypy_cache": true, ".ruff_cache": true, ".cache": true, ".venv": true,
	".tox": true, "target": true, "dist": true, "build": true,
	"node_modules": true, ".idea": true, ".vscode": true,
}

// skippedLockfiles are px lockfiles never included in a source archive.
var skippedLockfiles = map[string]bool{
	"px.lock": true,
}

// ArchiveWorkspaceDir walks dir deterministically (lexicographic order)
// and emits a gzip'd gnu-tar with fixed ownership/mode/mtime, suitable as
// an sdist substitute for workspace member sources (spec §4.2). The
// output bytes are byte-identical for identical inputs, including
// symlink structure.
func ArchiveWorkspaceDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	paths, err := collectPaths(dir)
	if err != nil {
		return nil, err
	}
	for _, rel := range paths {
		if err := writeArchiveEntry(tw, dir, rel); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// collectPaths returns every path under dir (directories and files,
// relative to dir, '/'-separated) in lexicographic order, skipping the
// fixed cache/dev directories and px lockfiles. Symlinked directories are
// descended into and their contents embedded at the symlink's own
// archive path.
func collectPaths(dir string) ([]string, error) {
	var out []string
	var walk func(relDir string) error
	walk = func(relDir string) error {
		absDir := filepath.Join(dir, relDir)
		entries, err := os.ReadDir(absDir)
		if err != nil {
			return fmt.Errorf("producers: read dir %s: %w", absDir, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			if skippedDirs[name] || skippedLockfiles[name] {
				continue
			}
			rel := name
			if relDir != "" {
				rel = relDir + "/" + name
			}
			absPath := filepath.Join(dir, rel)
			info, err := os.Lstat(absPath)
			if err != nil {
				return err
			}
			if info.Mode()&os.ModeSymlink != 0 {
				target, err := filepath.EvalSymlinks(absPath)
				if err != nil {
					archiveLog.Printf("skipping symlink with missing target: %s", rel)
					continue
				}
				targetInfo, err := os.Stat(target)
				if err != nil {
					archiveLog.Printf("skipping symlink with missing target: %s", rel)
					continue
				}
				if targetInfo.IsDir() {
					out = append(out, rel)
					if err := walk(rel); err != nil {
						return err
					}
					continue
				}
				out = append(out, rel)
				continue
			}
			if info.IsDir() {
				out = append(out, rel)
				if err := walk(rel); err != nil {
					return err
				}
				continue
			}
			out = append(out, rel)
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}

func writeArchiveEntry(tw *tar.Writer, dir, rel string) error {
	absPath := filepath.Join(dir, rel)
	info, err := os.Stat(absPath) // follows symlinks, matching collectPaths' canonical-target resolution
	if err != nil {
		return err
	}
	if info.IsDir() {
		hdr := &tar.Header{
			Name:     strings.TrimSuffix(rel, "/") + "/",
			Typeflag: tar.TypeDir,
			Mode:     0o755,
			ModTime:  mtimeUTC(),
			Uid:      0,
			Gid:      0,
		}
		return tw.WriteHeader(hdr)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}
	hdr := &tar.Header{
		Name:     rel,
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  mtimeUTC(),
		Uid:      0,
		Gid:      0,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

func mtimeUTC() time.Time { return time.Unix(deterministicMtime, 0).UTC() }
