package migrate

import (
	"fmt"

	"github.com/pxtool/px/internal/fsys"
)

// BackupManager snapshots files before a mutating migration step so they
// can be restored if any later step fails (spec §4.8 Apply mode step 1
// and step 9).
type BackupManager struct {
	fs        fsys.FS
	snapshots map[string][]byte // path -> original contents, only for files that existed
	created   map[string]bool   // paths this run created fresh (no prior snapshot)
	order     []string          // insertion order, for deterministic summaries
}

// NewBackupManager returns an empty manager bound to fs.
func NewBackupManager(fs fsys.FS) *BackupManager {
	return &BackupManager{fs: fs, snapshots: map[string][]byte{}, created: map[string]bool{}}
}

// Snapshot records path's current contents before it is mutated. If path
// does not yet exist, it is tracked as newly-created instead.
func (b *BackupManager) Snapshot(path string) error {
	if _, seen := b.snapshots[path]; seen {
		return nil
	}
	if b.created[path] {
		return nil
	}
	data, err := b.fs.ReadFile(path)
	if err != nil {
		b.created[path] = true
		b.order = append(b.order, path)
		return nil
	}
	b.snapshots[path] = data
	b.order = append(b.order, path)
	return nil
}

// Rollback restores every snapshotted file to its original contents and
// removes every newly-created file, in reverse insertion order (spec
// §4.8 step 9: "the on-disk state matches pre-run").
func (b *BackupManager) Rollback() error {
	for i := len(b.order) - 1; i >= 0; i-- {
		path := b.order[i]
		if b.created[path] {
			if err := b.fs.Remove(path); err != nil {
				return fmt.Errorf("migrate: rollback remove %s: %w", path, err)
			}
			continue
		}
		original, ok := b.snapshots[path]
		if !ok {
			continue
		}
		if err := b.fs.WriteFile(path, original, 0o644); err != nil {
			return fmt.Errorf("migrate: rollback restore %s: %w", path, err)
		}
	}
	return nil
}

// BackupSummary is the `details.actions.backups` payload spec §4.8 step
// 10 emits.
type BackupSummary struct {
	RestoredCount int      `json:"restored_count"`
	CreatedFiles  []string `json:"created_files"`
	SnapshotFiles []string `json:"snapshot_files"`
}

// Summary reports what this manager is tracking.
func (b *BackupManager) Summary() BackupSummary {
	s := BackupSummary{RestoredCount: len(b.snapshots)}
	for _, path := range b.order {
		if b.created[path] {
			s.CreatedFiles = append(s.CreatedFiles, path)
		} else {
			s.SnapshotFiles = append(s.SnapshotFiles, path)
		}
	}
	return s
}
