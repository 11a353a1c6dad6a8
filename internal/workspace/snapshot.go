// Package workspace takes scoped, byte-exact snapshots of project files and
// restores them. Symlinks are preserved as links.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/artifacts"
)

// EntryKind is the state of one path at snapshot time.
type EntryKind string

const (
	KindFile    EntryKind = "file"
	KindSymlink EntryKind = "symlink"
	KindAbsent  EntryKind = "absent"
)

// Entry records one snapshotted path.
type Entry struct {
	Path   string      `json:"path"`
	Kind   EntryKind   `json:"kind"`
	Mode   fs.FileMode `json:"mode,omitempty"`
	Size   int64       `json:"size,omitempty"`
	SHA256 string      `json:"sha256,omitempty"`
	Target string      `json:"target,omitempty"`
}

// Snapshot is a restorable copy of a set of project paths.
type Snapshot struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// Contains reports whether the snapshot covers rel.
func (s *Snapshot) Contains(rel string) bool {
	for _, e := range s.Entries {
		if e.Path == rel {
			return true
		}
	}
	return false
}

// Manager snapshots and restores files under one project root.
type Manager struct {
	root      string
	backupDir string
	logger    *zap.Logger
}

// NewManager creates a Manager. Snapshots are stored below backupDir.
func NewManager(root, backupDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{root: root, backupDir: backupDir, logger: logger}
}

func (m *Manager) manifestPath(id string) string {
	return filepath.Join(m.backupDir, id, "manifest.json")
}

func (m *Manager) blobPath(dir, rel string) string {
	return filepath.Join(dir, "files", filepath.FromSlash(rel))
}

// Backup snapshots paths under id, replacing any earlier snapshot with the
// same id. Paths must pass ValidatePath. In-root symlink targets are added to
// the snapshot. Directories are skipped: a finding can name one, but only
// files are fixed and restored.
func (m *Manager) Backup(id string, paths []string) (*Snapshot, error) {
	if err := ValidatePaths(paths); err != nil {
		return nil, err
	}
	dir := filepath.Join(m.backupDir, id)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear snapshot %s: %w", id, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	snap := &Snapshot{ID: id, Dir: dir, CreatedAt: time.Now().UTC()}
	seen := make(map[string]bool)
	queue := append([]string(nil), paths...)
	for len(queue) > 0 {
		rel := filepath.ToSlash(filepath.Clean(filepath.FromSlash(queue[0])))
		queue = queue[1:]
		if seen[rel] {
			continue
		}
		seen[rel] = true

		entry, ok, err := m.capture(dir, rel)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.logger.Debug("directory not captured", zap.String("path", rel))
			continue
		}
		snap.Entries = append(snap.Entries, entry)

		if entry.Kind == KindSymlink {
			if target, ok := inRoot(m.root, rel, entry.Target); ok {
				queue = append(queue, target)
			} else {
				m.logger.Debug("symlink target outside root not captured",
					zap.String("path", rel), zap.String("target", entry.Target))
			}
		}
	}

	if err := artifacts.WriteJSON(m.manifestPath(id), snap); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	m.logger.Debug("snapshot taken", zap.String("id", id), zap.Int("entries", len(snap.Entries)))
	return snap, nil
}

func (m *Manager) capture(dir, rel string) (Entry, bool, error) {
	abs := filepath.Join(m.root, filepath.FromSlash(rel))
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{Path: rel, Kind: KindAbsent}, true, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("stat %s: %w", rel, err)
	}

	switch {
	case info.IsDir():
		return Entry{}, false, nil
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(abs)
		if err != nil {
			return Entry{}, false, fmt.Errorf("readlink %s: %w", rel, err)
		}
		return Entry{Path: rel, Kind: KindSymlink, Target: target}, true, nil
	case info.Mode().IsRegular():
		data, err := os.ReadFile(abs)
		if err != nil {
			return Entry{}, false, fmt.Errorf("read %s: %w", rel, err)
		}
		if err := artifacts.WriteAtomic(m.blobPath(dir, rel), data); err != nil {
			return Entry{}, false, fmt.Errorf("copy %s: %w", rel, err)
		}
		return Entry{
			Path:   rel,
			Kind:   KindFile,
			Mode:   info.Mode().Perm(),
			Size:   int64(len(data)),
			SHA256: digest(data),
		}, true, nil
	default:
		return Entry{}, false, fmt.Errorf("snapshot %s: not a regular file or symlink", rel)
	}
}

// Load reads a snapshot manifest written by Backup.
func (m *Manager) Load(id string) (*Snapshot, error) {
	var snap Snapshot
	if err := artifacts.ReadJSON(m.manifestPath(id), &snap); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// Discard removes a snapshot from disk.
func (m *Manager) Discard(snap *Snapshot) error {
	if err := os.RemoveAll(snap.Dir); err != nil {
		return fmt.Errorf("discard snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
