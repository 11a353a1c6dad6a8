package workspace

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ErrScopeViolation is matched by every ScopeError.
var ErrScopeViolation = errors.New("path outside repair scope")

// ScopeError rejects one path at the repair-scope boundary.
type ScopeError struct {
	Path   string
	Reason string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope violation: %q: %s", e.Path, e.Reason)
}

func (e *ScopeError) Unwrap() error { return ErrScopeViolation }

// ValidatePath checks that p is a project-relative path that stays inside
// the project root.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return &ScopeError{Path: p, Reason: "empty path"}
	case strings.ContainsRune(p, 0):
		return &ScopeError{Path: p, Reason: "contains NUL byte"}
	case path.IsAbs(p) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" || strings.HasPrefix(p, `\`):
		return &ScopeError{Path: p, Reason: "absolute path"}
	}
	for _, seg := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return &ScopeError{Path: p, Reason: "parent-directory segment"}
		}
	}
	return nil
}

// ValidatePaths validates every path and returns the first violation.
func ValidatePaths(paths []string) error {
	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			return err
		}
	}
	return nil
}

// inRoot resolves a symlink target relative to the directory holding the
// link and reports its root-relative path, or false when it leaves root.
func inRoot(root, linkRel, target string) (string, bool) {
	var abs string
	if filepath.IsAbs(target) {
		abs = filepath.Clean(target)
	} else {
		abs = filepath.Join(root, filepath.Dir(filepath.FromSlash(linkRel)), target)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
