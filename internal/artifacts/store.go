// Package artifacts persists run, brief, repair and escalation payloads under
// the project's .qgate directory.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// DirName is the artifact directory created in the project root.
const DirName = ".qgate"

// Store manages the artifact directory of one project.
type Store struct {
	root string
	dir  string
}

// NewStore creates a Store for the project rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root, dir: filepath.Join(root, DirName)}
}

// Root returns the project root.
func (s *Store) Root() string { return s.root }

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Ensure creates the artifact directory if needed.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.dir, err)
	}
	return nil
}

func (s *Store) FailuresPath() string { return filepath.Join(s.dir, "failures.json") }
func (s *Store) RunMetadataPath() string { return filepath.Join(s.dir, "run-metadata.json") }
func (s *Store) BriefJSONPath() string { return filepath.Join(s.dir, "agent-brief.json") }
func (s *Store) BriefMarkdownPath() string { return filepath.Join(s.dir, "agent-brief.md") }
func (s *Store) RepairReportPath() string { return filepath.Join(s.dir, "repair-report.json") }
func (s *Store) EscalationPath() string { return filepath.Join(s.dir, "escalation.json") }
func (s *Store) PytestReportPath() string { return filepath.Join(s.dir, "pytest-report.json") }
func (s *Store) BackupDir() string { return filepath.Join(s.dir, "backups") }
func (s *Store) HistoryPath() string { return filepath.Join(s.dir, "history.db") }

// WriteFailures writes failures.json.
func (s *Store) WriteFailures(f *Failures) error {
	if f.Version == "" {
		f.Version = SchemaVersion
	}
	return WriteJSON(s.FailuresPath(), f)
}

// WriteRunMetadata writes run-metadata.json.
func (s *Store) WriteRunMetadata(m *RunMetadata) error {
	return WriteJSON(s.RunMetadataPath(), m)
}

// WriteBrief writes the agent brief in both its JSON and Markdown renderings.
func (s *Store) WriteBrief(v interface{}, markdown string) error {
	if err := WriteJSON(s.BriefJSONPath(), v); err != nil {
		return err
	}
	return WriteAtomic(s.BriefMarkdownPath(), []byte(markdown))
}

// WriteRepairReport writes repair-report.json.
func (s *Store) WriteRepairReport(r *RepairReport) error {
	return WriteJSON(s.RepairReportPath(), r)
}

// WriteEscalation writes escalation.json.
func (s *Store) WriteEscalation(e *evidence.EscalationEvidence) error {
	return WriteJSON(s.EscalationPath(), e)
}

// ClearRepairOutcome removes the repair report and escalation left by a
// previous repair so a reader never mixes outcomes of two invocations.
func (s *Store) ClearRepairOutcome() error {
	for _, p := range []string{s.RepairReportPath(), s.EscalationPath()} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

// ReadFailures loads a failures payload from path. An empty path reads the
// store's own failures.json.
func (s *Store) ReadFailures(path string) (*Failures, error) {
	if path == "" {
		path = s.FailuresPath()
	}
	var f Failures
	if err := ReadJSON(path, &f); err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}
	if f.Version == "" {
		return nil, fmt.Errorf("read failures: %s has no version field", path)
	}
	if _, err := evidence.ParseMode(string(f.Mode)); err != nil {
		return nil, fmt.Errorf("read failures: %w", err)
	}
	for i, fd := range f.Findings {
		if _, err := evidence.ParseGate(string(fd.Gate)); err != nil {
			return nil, fmt.Errorf("read failures: finding %d: %w", i, err)
		}
	}
	return &f, nil
}
