package fix

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.CommandContext.
type ExecGit struct{}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// GitMeter measures a fix as the change in `git diff` line counts per file
// between before and after. Untracked files are invisible to it.
type GitMeter struct {
	Root string
	Git  GitRunner
}

type gitMeasurement struct {
	m      *GitMeter
	files  []string
	before map[string]int
}

func (m *GitMeter) Start(ctx context.Context, files []string) (Measurement, error) {
	before, err := m.stat(ctx, files)
	if err != nil {
		return nil, err
	}
	return &gitMeasurement{m: m, files: files, before: before}, nil
}

func (g *gitMeasurement) Finish(ctx context.Context) (Delta, error) {
	after, err := g.m.stat(ctx, g.files)
	if err != nil {
		return Delta{}, err
	}

	names := make(map[string]bool)
	for f := range g.before {
		names[f] = true
	}
	for f := range after {
		names[f] = true
	}
	sorted := make([]string, 0, len(names))
	for f := range names {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)

	var d Delta
	for _, f := range sorted {
		n := after[f] - g.before[f]
		if n < 0 {
			n = -n
		}
		if n == 0 {
			continue
		}
		d.FilesChanged++
		d.LinesChanged += n
		d.Files = append(d.Files, f)
	}
	return d, nil
}

// stat returns changed lines per file of the working tree against the index.
func (m *GitMeter) stat(ctx context.Context, files []string) (map[string]int, error) {
	args := append([]string{"diff", "--no-color", "--no-ext-diff", "--"}, files...)
	out, err := m.Git.Run(ctx, m.Root, args...)
	if err != nil {
		return nil, err
	}
	return DiffLines([]byte(out))
}

// DiffLines parses a unified multi-file diff and returns the number of added
// plus deleted lines per file.
func DiffLines(patch []byte) (map[string]int, error) {
	counts := make(map[string]int)
	if len(strings.TrimSpace(string(patch))) == 0 {
		return counts, nil
	}
	fds, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	for _, fd := range fds {
		name := strings.TrimPrefix(fd.NewName, "b/")
		if fd.NewName == "" || fd.NewName == "/dev/null" {
			name = strings.TrimPrefix(fd.OrigName, "a/")
		}
		st := fd.Stat()
		counts[name] += int(st.Added) + int(st.Deleted) + 2*int(st.Changed)
	}
	return counts, nil
}
