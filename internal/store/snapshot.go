package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// tempSnapshotName is the reserved name for the most recent revertable
// database swap (spec §4.5, §6).
const tempSnapshotName = "temp.db"

// snapshotTimestampLayout produces the sortable YYYYMMDDHHmmss prefix;
// the trailing four digits (hundred-microsecond resolution) are appended
// separately since time.Format has no verb for them.
const snapshotTimestampLayout = "20060102150405"

func snapshotTimestamp(now time.Time) string {
	frac := now.Nanosecond() / 100000 // 0..9999, hundred-microsecond resolution
	return fmt.Sprintf("%s%04d", now.Format(snapshotTimestampLayout), frac)
}

func (e *Engine) snapshotFilePath(name string) string {
	return filepath.Join(e.cfg.SnapshotPath, name+".db")
}

func (e *Engine) tempFilePath() string {
	return filepath.Join(e.cfg.SnapshotPath, tempSnapshotName)
}

// SaveSnapshot copies the live database file to
// <snapshotPath>/<timestamp>.db and trims the oldest snapshot if the
// backlog exceeds the configured limit.
func (e *Engine) SaveSnapshot() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(e.cfg.SnapshotPath, 0o755); err != nil {
		return "", fmt.Errorf("store: create snapshot dir: %w", err)
	}

	name := snapshotTimestamp(time.Now().UTC())
	if err := copyFile(e.dbPath, e.snapshotFilePath(name)); err != nil {
		return "", fmt.Errorf("store: save snapshot: %w", err)
	}

	if err := e.trimSnapshotBacklog(); err != nil {
		e.log.Warnf("trim snapshot backlog: %v", err)
	}
	return name, nil
}

func (e *Engine) trimSnapshotBacklog() error {
	names, err := e.listSnapshotNames()
	if err != nil {
		return err
	}
	if len(names) <= e.cfg.SnapshotBacklog {
		return nil
	}
	excess := names[:len(names)-e.cfg.SnapshotBacklog]
	for _, name := range excess {
		if err := os.Remove(e.snapshotFilePath(name)); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// ListSnapshots returns every retained snapshot name, oldest first
// (timestamps are lexicographically sortable by construction).
func (e *Engine) ListSnapshots() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listSnapshotNames()
}

func (e *Engine) listSnapshotNames() ([]string, error) {
	entries, err := os.ReadDir(e.cfg.SnapshotPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if fileName == tempSnapshotName || !strings.HasSuffix(fileName, ".db") {
			continue
		}
		names = append(names, strings.TrimSuffix(fileName, ".db"))
	}
	sort.Strings(names)
	return names, nil
}

// LoadSnapshot atomically moves the live database to temp.db, then moves
// the named snapshot into the live path. The database handle is closed
// and reopened against the swapped file. RevertSnapshotLoad can undo this
// exactly once, until the next LoadSnapshot.
func (e *Engine) LoadSnapshot(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshotPath := e.snapshotFilePath(name)
	if _, err := os.Stat(snapshotPath); err != nil {
		return ErrSnapshotNotFound
	}

	if err := e.db.Close(); err != nil {
		return fmt.Errorf("store: load snapshot: close db: %w", err)
	}

	if err := os.Rename(e.dbPath, e.tempFilePath()); err != nil {
		return fmt.Errorf("store: load snapshot: move live db to temp: %w", err)
	}
	if err := os.Rename(snapshotPath, e.dbPath); err != nil {
		return fmt.Errorf("store: load snapshot: move snapshot into place: %w", err)
	}

	db, err := openDB(e.dbPath)
	if err != nil {
		return fmt.Errorf("store: load snapshot: reopen db: %w", err)
	}
	e.db = db
	e.cache = newChannelCache(channelCacheCapacity)
	return nil
}

// RevertSnapshotLoad swaps the live database back with temp.db, undoing
// the most recent LoadSnapshot.
func (e *Engine) RevertSnapshotLoad() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tempPath := e.tempFilePath()
	if _, err := os.Stat(tempPath); err != nil {
		return ErrNoPriorSnapshotLoad
	}

	if err := e.db.Close(); err != nil {
		return fmt.Errorf("store: revert snapshot: close db: %w", err)
	}

	swapPath := e.dbPath + ".revert-swap"
	if err := os.Rename(e.dbPath, swapPath); err != nil {
		return fmt.Errorf("store: revert snapshot: stash loaded db: %w", err)
	}
	if err := os.Rename(tempPath, e.dbPath); err != nil {
		return fmt.Errorf("store: revert snapshot: restore temp db: %w", err)
	}
	if err := os.Remove(swapPath); err != nil {
		e.log.Warnf("revert snapshot: remove stashed db: %v", err)
	}

	db, err := openDB(e.dbPath)
	if err != nil {
		return fmt.Errorf("store: revert snapshot: reopen db: %w", err)
	}
	e.db = db
	e.cache = newChannelCache(channelCacheCapacity)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return out.Sync()
}
