package fix

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Delta is the measured size of a patch.
type Delta struct {
	FilesChanged int
	LinesChanged int
	Files        []string
}

// Meter measures how much a fix changed a set of files.
type Meter interface {
	Start(ctx context.Context, files []string) (Measurement, error)
}

// Measurement is an in-flight measurement begun by Meter.Start.
type Measurement interface {
	Finish(ctx context.Context) (Delta, error)
}

// ContentMeter compares file contents before and after a fix with a
// line-level diff. Inserted and deleted lines are both counted.
type ContentMeter struct {
	Root string
}

type contentMeasurement struct {
	root   string
	files  []string
	before map[string]string
}

func (m *ContentMeter) Start(_ context.Context, files []string) (Measurement, error) {
	before := make(map[string]string, len(files))
	for _, f := range files {
		text, err := readOptional(filepath.Join(m.Root, filepath.FromSlash(f)))
		if err != nil {
			return nil, err
		}
		before[f] = text
	}
	return &contentMeasurement{root: m.Root, files: files, before: before}, nil
}

func (c *contentMeasurement) Finish(_ context.Context) (Delta, error) {
	var d Delta
	for _, f := range c.files {
		after, err := readOptional(filepath.Join(c.root, filepath.FromSlash(f)))
		if err != nil {
			return Delta{}, err
		}
		n := LineDelta(c.before[f], after)
		if n == 0 {
			continue
		}
		d.FilesChanged++
		d.LinesChanged += n
		d.Files = append(d.Files, f)
	}
	return d, nil
}

// LineDelta counts the inserted plus deleted lines between two texts.
func LineDelta(before, after string) int {
	if before == after {
		return 0
	}
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	n := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		n += countLines(d.Text)
	}
	return n
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func readOptional(p string) (string, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), nil
}
