package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/openmbee/dngsync/internal/delta"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SnapshotCache keeps translated snapshots on disk, one file per id, so a
// failed run resumes without re-crawling.
type SnapshotCache struct {
	dir string
}

// NewSnapshotCache creates the cache directory if needed.
func NewSnapshotCache(dir string) (*SnapshotCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sync: creating snapshot cache %s: %w", dir, err)
	}

	return &SnapshotCache{dir: dir}, nil
}

// Path returns the file holding snapshot id. The file may not exist.
func (c *SnapshotCache) Path(id string) string {
	return filepath.Join(c.dir, "snapshot."+unsafeFileChars.ReplaceAllString(id, "_")+".json")
}

// Load reads snapshot id. ok is false when it was never stored.
func (c *SnapshotCache) Load(id string) (snap delta.Snapshot, ok bool, err error) {
	f, err := os.Open(c.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("sync: opening snapshot %s: %w", id, err)
	}
	defer f.Close()

	snap, err = delta.ReadSnapshot(f)
	if err != nil {
		return nil, false, fmt.Errorf("sync: reading snapshot %s: %w", id, err)
	}

	return snap, true, nil
}

// Store writes snapshot id through a temp file and rename, so a crash never
// leaves a truncated snapshot behind.
func (c *SnapshotCache) Store(id string, snap delta.Snapshot) error {
	tmp, err := os.CreateTemp(c.dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("sync: creating temp snapshot: %w", err)
	}

	tmpPath := tmp.Name()
	success := false

	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := delta.WriteSnapshot(tmp, snap); err != nil {
		return fmt.Errorf("sync: writing snapshot %s: %w", id, err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync: syncing snapshot %s: %w", id, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sync: closing snapshot %s: %w", id, err)
	}

	if err := os.Rename(tmpPath, c.Path(id)); err != nil {
		return fmt.Errorf("sync: renaming snapshot %s: %w", id, err)
	}

	success = true

	return nil
}

// Prune removes every stored snapshot whose id starts with prefix, except
// keep. It returns the number of files removed.
func (c *SnapshotCache) Prune(prefix, keep string) (int, error) {
	pattern := filepath.Join(c.dir, "snapshot."+unsafeFileChars.ReplaceAllString(prefix, "_")+"*.json")

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("sync: listing snapshots %s*: %w", prefix, err)
	}

	keepPath := c.Path(keep)
	removed := 0

	for _, path := range matches {
		if path == keepPath {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("sync: removing snapshot %s: %w", filepath.Base(path), err)
		}

		removed++
	}

	return removed, nil
}
