package cas

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/pxtool/px/internal/gitrepo"
	"github.com/pxtool/px/internal/oid"
)

// RepoSnapshotSpec identifies a pinned git tree (spec §4.1).
type RepoSnapshotSpec struct {
	Locator string // git+file://ABS_PATH or git+{http,https}://...
	Commit  string // full 40- or 64-char hex SHA
	Subdir  string
}

var (
	hexCommitRe = regexp.MustCompile(`^[0-9a-f]{40}$|^[0-9a-f]{64}$`)
)

// Validate enforces the spec's locator/commit rules: locator must be
// git+file://ABS_PATH or git+{http,https}://…, never carrying credentials
// or a query/fragment; commit must be a full 40- or 64-char hex SHA.
func (s RepoSnapshotSpec) Validate() error {
	if !hexCommitRe.MatchString(s.Commit) {
		return fmt.Errorf("invalid_repo_snapshot_commit: %q is not a 40 or 64 char hex sha", s.Commit)
	}
	rest, ok := strings.CutPrefix(s.Locator, "git+")
	if !ok {
		return fmt.Errorf("unsupported_repo_snapshot_locator: %q must start with git+", s.Locator)
	}
	switch {
	case strings.HasPrefix(rest, "file://"):
		path := strings.TrimPrefix(rest, "file://")
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("invalid_repo_snapshot_locator: file locator must be absolute: %q", s.Locator)
		}
	case strings.HasPrefix(rest, "http://"), strings.HasPrefix(rest, "https://"):
		u, err := url.Parse(rest)
		if err != nil {
			return fmt.Errorf("invalid_repo_snapshot_locator: %w", err)
		}
		if u.User != nil {
			return fmt.Errorf("invalid_repo_snapshot_locator: credentials not allowed in %q", s.Locator)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("invalid_repo_snapshot_locator: query/fragment not allowed in %q", s.Locator)
		}
	default:
		return fmt.Errorf("unsupported_repo_snapshot_locator: %q", s.Locator)
	}
	if strings.Contains(s.Subdir, "..") {
		return fmt.Errorf("invalid_repo_snapshot_subdir: %q", s.Subdir)
	}
	return nil
}

// key returns the deterministic (locator|commit|subdir) secondary key.
func (s RepoSnapshotSpec) key() string {
	return normalizeLocator(s.Locator) + "|" + s.Commit + "|" + s.Subdir
}

func normalizeLocator(locator string) string {
	// Lexical path normalization + URL-encoding, applied to the path/host
	// portion only; the git+<scheme>:// prefix is preserved verbatim.
	rest, ok := strings.CutPrefix(locator, "git+")
	if !ok {
		return locator
	}
	if path, ok := strings.CutPrefix(rest, "file://"); ok {
		clean := cleanPath(path)
		return "git+file://" + (&url.URL{Path: clean}).EscapedPath()
	}
	if u, err := url.Parse(rest); err == nil {
		u.Path = cleanPath(u.Path)
		return "git+" + u.String()
	}
	return locator
}

func cleanPath(p string) string {
	parts := strings.Split(p, "/")
	var out []string
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	return "/" + strings.Join(out, "/")
}

// EnsureRepoSnapshot materializes a deterministic, digest-addressed
// archive of spec's git tree at its pinned commit, reusing a prior
// snapshot via the secondary key table when available (spec §4.1).
// offline disallows remote locators.
func (s *Store) EnsureRepoSnapshot(ctx context.Context, runner gitrepo.Runner, spec RepoSnapshotSpec, offline bool) (StoredObject, error) {
	if err := spec.Validate(); err != nil {
		return StoredObject{}, err
	}
	remote := strings.TrimPrefix(spec.Locator, "git+")
	isRemote := strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://")
	if offline && isRemote {
		return StoredObject{}, fmt.Errorf("repo_snapshot_offline: remote locator %q forbidden offline", spec.Locator)
	}
	if !gitrepo.Available() {
		return StoredObject{}, fmt.Errorf("repo_snapshot_git_unavailable: git binary not found")
	}

	key := spec.key()
	if digest, ok, err := s.LookupKey(ctx, "repo-snapshot", key); err == nil && ok {
		return StoredObject{OID: digest, Path: s.objectPath(digest), Kind: oid.KindRepoSnapshot}, nil
	}

	repoDir := strings.TrimPrefix(remote, "file://")
	if isRemote {
		if err := gitrepo.FetchCommit(ctx, runner, repoDir, remote, spec.Commit); err != nil {
			return StoredObject{}, err
		}
	}
	tarBytes, err := gitrepo.ArchiveCommit(ctx, runner, repoDir, spec.Commit, spec.Subdir)
	if err != nil {
		return StoredObject{}, err
	}
	gz, err := gzipBytes(tarBytes)
	if err != nil {
		return StoredObject{}, err
	}
	header := map[string]any{
		"locator": normalizeLocator(spec.Locator),
		"commit":  spec.Commit,
		"subdir":  spec.Subdir,
	}
	stored, err := s.Put(ctx, oid.Object{Kind: oid.KindRepoSnapshot, Header: header, Payload: gz})
	if err != nil {
		return StoredObject{}, err
	}
	if err := s.RecordKey(ctx, "repo-snapshot", key, stored.OID); err != nil {
		return StoredObject{}, err
	}
	return stored, nil
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExtractRepoSnapshot decompresses a stored repo-snapshot payload back
// into tar bytes, for callers that need to unpack it onto disk.
func ExtractRepoSnapshot(payload []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
