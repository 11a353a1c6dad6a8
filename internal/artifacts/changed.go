package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
)

// LoadChangedFiles reads a changed-files list. The file is either a JSON
// array of strings (other element types are dropped) or newline-delimited
// paths. Blank entries are ignored, "./" prefixes are stripped and duplicates
// removed, preserving order. Paths are not validated here.
func LoadChangedFiles(p string) ([]string, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read changed files: %w", err)
	}
	return ParseChangedFiles(data), nil
}

// ParseChangedFiles parses the contents of a changed-files list.
func ParseChangedFiles(data []byte) []string {
	text := strings.TrimSpace(string(data))
	var raw []string
	if strings.HasPrefix(text, "[") {
		var items []interface{}
		if err := json.Unmarshal([]byte(text), &items); err == nil {
			for _, it := range items {
				if s, ok := it.(string); ok {
					raw = append(raw, s)
				}
			}
			return normalize(raw)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		raw = append(raw, line)
	}
	return normalize(raw)
}

func normalize(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := []string{}
	for _, r := range raw {
		r = strings.TrimSpace(strings.ReplaceAll(r, "\\", "/"))
		if r == "" {
			continue
		}
		// Keep ".." and absolute paths intact so the scope check can reject them.
		if !strings.HasPrefix(r, "/") && !strings.Contains(r, "..") {
			r = path.Clean(r)
		}
		r = strings.TrimPrefix(r, "./")
		if r == "" || r == "." || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
