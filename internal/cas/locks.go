package cas

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// lockOID acquires an OS-level exclusive file lock on locks/<oid>.lock,
// spanning temp-file creation, rename-into-place, and index insertion
// (spec §4.1 Concurrency, §5 Shared resources). The returned func releases
// the lock.
func (s *Store) lockOID(digest string) (func(), error) {
	locksDir := filepath.Join(s.Root, "locks")
	if err := os.MkdirAll(locksDir, 0o755); err != nil {
		return nil, fmt.Errorf("cas: ensure locks dir: %w", err)
	}
	path := filepath.Join(locksDir, digest+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cas: open lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("cas: flock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// ProjectLock is the single-writer try-lock at a project or workspace root
// (spec §5: "acquires a separate ProjectLock file... single-writer,
// try_lock; failing the try returns a stable project_locked user error").
type ProjectLock struct {
	f *os.File
}

// TryLock attempts to acquire the lock file at root/.px/lock, returning a
// non-blocking failure if another process already holds it.
func TryLock(root string) (*ProjectLock, error) {
	dir := filepath.Join(root, ".px")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("project_locked: %s is held by another process: %w", path, err)
	}
	return &ProjectLock{f: f}, nil
}

// Unlock releases the project lock.
func (p *ProjectLock) Unlock() error {
	if p == nil || p.f == nil {
		return nil
	}
	_ = unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	return p.f.Close()
}
