// Package materializer builds the per-lock, per-runtime environment
// identity and projects CAS pkg-build objects (wheels) into a site tree
// (spec §4.5).
package materializer

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pxtool/px/internal/cas"
	"github.com/pxtool/px/internal/oid"
)

// Package is one resolved dependency feeding a profile/projection.
type Package struct {
	Name        string
	Version     string
	PkgBuildOID string
}

// RuntimeInfo identifies the interpreter backing an environment.
type RuntimeInfo struct {
	OID      string
	Version  string
	Platform string
	Path     string
}

// EnvID computes the per-lock environment identity: sha256(lock_id ||
// runtime.version || runtime.platform || runtime.path) truncated to 16
// hex chars, prefixed "env-" (spec §4.5 Identity).
func EnvID(lockID string, runtime RuntimeInfo) string {
	h := sha256.New()
	h.Write([]byte(lockID))
	h.Write([]byte(runtime.Version))
	h.Write([]byte(runtime.Platform))
	h.Write([]byte(runtime.Path))
	sum := hex.EncodeToString(h.Sum(nil))
	return "env-" + sum[:16]
}

// ProfileOID computes the profile's canonical object id: the sha256 of
// the canonical profile header (runtime_oid + sorted packages + env vars
// + plugin imports). The profile OID IS the environment identity at the
// CAS level (spec §3 ProfileOID, §4.5).
func ProfileOID(runtimeOID string, packages []Package, env map[string]string, pluginImports []string) (string, error) {
	sortedPkgs := append([]Package(nil), packages...)
	sort.Slice(sortedPkgs, func(i, j int) bool {
		if sortedPkgs[i].Name != sortedPkgs[j].Name {
			return sortedPkgs[i].Name < sortedPkgs[j].Name
		}
		return sortedPkgs[i].Version < sortedPkgs[j].Version
	})
	pkgHeaders := make([]map[string]any, len(sortedPkgs))
	for i, p := range sortedPkgs {
		pkgHeaders[i] = map[string]any{"name": p.Name, "version": p.Version, "pkg_build_oid": p.PkgBuildOID}
	}
	plugins := append([]string(nil), pluginImports...)
	sort.Strings(plugins)
	header := map[string]any{
		"runtime_oid": runtimeOID,
		"packages":    pkgHeaders,
		"env":         env,
		"plugins":     plugins,
	}
	return oid.Digest(oid.Object{Kind: oid.KindProfile, Header: header})
}

// Loader is the subset of *cas.Store the projector needs.
type Loader interface {
	Load(ctx context.Context, digest string) (cas.LoadedObject, error)
}

// Projector materializes profile_oid's packages into envs/<profile_oid>/
// site, reading wheel zip payloads from the CAS.
type Projector struct {
	EnvsRoot string
	Loader   Loader
}

// Materialize projects packages into Projector.EnvsRoot/<profileOID>/site.
// The projection is idempotent (spec §4.5 Projection): re-running with
// identical inputs rewrites no files, since every write target already
// exists with expected content once the first run finishes. A `.partial`
// sibling directory is used while building; on failure it is removed; on
// success it is renamed into place.
func (p *Projector) Materialize(ctx context.Context, profileOID string, packages []Package) (sitePath string, err error) {
	envDir := filepath.Join(p.EnvsRoot, profileOID)
	site := filepath.Join(envDir, "site")
	if _, statErr := os.Stat(site); statErr == nil {
		return site, nil // already materialized; idempotent no-op
	}
	partial := site + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return "", fmt.Errorf("materializer: clear stale partial: %w", err)
	}
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return "", fmt.Errorf("materializer: mkdir partial: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(partial)
		}
	}()

	sortedPkgs := append([]Package(nil), packages...)
	sort.Slice(sortedPkgs, func(i, j int) bool { return sortedPkgs[i].Name < sortedPkgs[j].Name })

	for _, pkg := range sortedPkgs {
		obj, loadErr := p.Loader.Load(ctx, pkg.PkgBuildOID)
		if loadErr != nil {
			return "", fmt.Errorf("materializer: load %s (%s): %w", pkg.Name, pkg.PkgBuildOID, loadErr)
		}
		if err := extractWheel(obj.Payload, partial); err != nil {
			return "", fmt.Errorf("materializer: extract %s: %w", pkg.Name, err)
		}
	}
	if err := markReadOnly(partial); err != nil {
		return "", fmt.Errorf("materializer: harden permissions: %w", err)
	}
	if err := os.Rename(partial, site); err != nil {
		return "", fmt.Errorf("materializer: rename into place: %w", err)
	}
	return site, nil
}

// extractWheel unpacks a wheel zip's contents into dest in deterministic
// (lexicographic) order.
func extractWheel(payload []byte, dest string) error {
	r, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return err
	}
	names := make([]string, len(r.File))
	byName := make(map[string]*zip.File, len(r.File))
	for i, f := range r.File {
		names[i] = f.Name
		byName[f.Name] = f
	}
	sort.Strings(names)
	for _, name := range names {
		f := byName[name]
		target := filepath.Join(dest, filepath.Clean(name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			return err
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		out.Close()
		if copyErr != nil {
			return copyErr
		}
	}
	return nil
}

func markReadOnly(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		mode := os.FileMode(0o444)
		if info.IsDir() {
			mode = 0o555
		}
		if chmodErr := os.Chmod(path, mode); chmodErr != nil {
			return nil // a failed chmod is skipped; hardening never aborts the projection
		}
		return nil
	})
}

// RuntimeManifest is written once per runtime under
// materialized-runtimes/<oid>/manifest.json by the CAS store itself
// (spec §4.1); the materializer only reads it back to discover the
// interpreter path for a given runtime oid.
type RuntimeManifest struct {
	OID     string `json:"oid"`
	Version string `json:"version"`
	Path    string `json:"path"`
}

// LoadRuntimeManifest reads a runtime's manifest.json.
func LoadRuntimeManifest(storeRoot, runtimeOID string) (RuntimeManifest, error) {
	path := filepath.Join(storeRoot, "materialized-runtimes", runtimeOID, "manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeManifest{}, err
	}
	// The store nests the runtime object's header under "header"; version
	// and path are taken from there when absent at the top level.
	var m struct {
		RuntimeManifest
		Header struct {
			Version string `json:"version"`
			Path    string `json:"path"`
		} `json:"header"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return RuntimeManifest{}, err
	}
	out := m.RuntimeManifest
	if out.Version == "" {
		out.Version = m.Header.Version
	}
	if out.Path == "" {
		out.Path = m.Header.Path
	}
	return out, nil
}

// PycacheDir computes the per-profile writable bytecode cache directory
// under cacheRoot and ensures it exists (spec §4.5 Python bytecode
// cache). Returns ("", nil) when profileOID is empty (nothing to do).
func PycacheDir(cacheRoot, profileOID string) (string, error) {
	if profileOID == "" {
		return "", nil
	}
	dir := filepath.Join(cacheRoot, "pyc", profileOID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("pyc_cache_unwritable: %w", err)
	}
	return dir, nil
}
