// Package gitinfo reads repository facts for run payloads: the origin URL,
// the current branch and the files changed in the working tree.
package gitinfo

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
)

// ErrNotRepository is returned when root is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Info describes the repository a run was made in. Fields are empty when
// they cannot be determined.
type Info struct {
	Repo   string `json:"repo,omitempty"`
	Branch string `json:"branch,omitempty"`
}

func open(root string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// Detect returns the origin URL and branch of the repository containing root.
// Outside a repository, or on a detached HEAD, the fields are left empty.
func Detect(root string) Info {
	repo, err := open(root)
	if err != nil {
		return Info{}
	}

	var info Info
	if remote, err := repo.Remote("origin"); err == nil {
		if urls := remote.Config().URLs; len(urls) > 0 {
			info.Repo = urls[0]
		}
	}
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}
	return info
}

// ChangedFiles returns the files with staged, unstaged or untracked changes,
// relative to root and sorted. Deleted files, files outside root and the
// .qgate artifact directory are left out.
func ChangedFiles(root string) ([]string, error) {
	repo, err := open(root)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	top := wt.Filesystem.Root()
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}

	var files []string
	for path, st := range status {
		if st.Staging == git.Deleted || st.Worktree == git.Deleted {
			continue
		}
		if st.Staging == git.Unmodified && st.Worktree == git.Unmodified {
			continue
		}
		rel, err := filepath.Rel(absRoot, filepath.Join(top, filepath.FromSlash(path)))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		rel = filepath.ToSlash(rel)
		if rel == ".qgate" || strings.HasPrefix(rel, ".qgate/") {
			continue
		}
		files = append(files, rel)
	}
	sort.Strings(files)
	return files, nil
}
