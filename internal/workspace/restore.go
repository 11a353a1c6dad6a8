package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Restore puts every snapshotted path back to its captured state. Each path
// is replaced by writing a sibling temp file and renaming it over the target,
// so an interrupted restore can simply be run again.
func (m *Manager) Restore(snap *Snapshot) error {
	for _, e := range snap.Entries {
		if err := m.restoreEntry(snap, e); err != nil {
			return fmt.Errorf("restore %s: %w", e.Path, err)
		}
	}
	m.logger.Debug("snapshot restored", zap.String("id", snap.ID), zap.Int("entries", len(snap.Entries)))
	return nil
}

func (m *Manager) restoreEntry(snap *Snapshot, e Entry) error {
	abs := filepath.Join(m.root, filepath.FromSlash(e.Path))
	switch e.Kind {
	case KindAbsent:
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	case KindSymlink:
		return replaceWithSymlink(abs, e.Target)
	case KindFile:
		data, err := os.ReadFile(m.blobPath(snap.Dir, e.Path))
		if err != nil {
			return fmt.Errorf("read backup: %w", err)
		}
		if digest(data) != e.SHA256 {
			return fmt.Errorf("backup copy is corrupt")
		}
		return replaceWithFile(abs, data, e.Mode)
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
}

func replaceWithFile(abs string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".qgate-restore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return err
	}
	tmpName = ""
	return nil
}

func replaceWithSymlink(abs, target string) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if cur, err := os.Readlink(abs); err == nil && cur == target {
		return nil
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".qgate-link-%d", os.Getpid()))
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Verify compares the workspace with the snapshot and returns the paths that
// differ. An empty result means the restore was byte-identical.
func (m *Manager) Verify(snap *Snapshot) ([]string, error) {
	var diffs []string
	for _, e := range snap.Entries {
		ok, err := m.matches(e)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", e.Path, err)
		}
		if !ok {
			diffs = append(diffs, e.Path)
		}
	}
	return diffs, nil
}

func (m *Manager) matches(e Entry) (bool, error) {
	abs := filepath.Join(m.root, filepath.FromSlash(e.Path))
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return e.Kind == KindAbsent, nil
	}
	if err != nil {
		return false, err
	}

	switch e.Kind {
	case KindAbsent:
		return false, nil
	case KindSymlink:
		if info.Mode()&fs.ModeSymlink == 0 {
			return false, nil
		}
		target, err := os.Readlink(abs)
		if err != nil {
			return false, err
		}
		return target == e.Target, nil
	default:
		if !info.Mode().IsRegular() || info.Mode().Perm() != e.Mode {
			return false, nil
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return false, err
		}
		return digest(data) == e.SHA256, nil
	}
}
