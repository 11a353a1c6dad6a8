package gates

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// Output is the raw material an adapter normalizes.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Report holds the gate's report file contents, nil when the tool wrote none.
	Report []byte
	// Root is the project root, used to relativize absolute paths.
	Root string
}

// Parsed is an adapter's normalized result.
type Parsed struct {
	Findings []evidence.Finding
	// Unparseable is set when the output did not have the expected shape.
	Unparseable bool
	Summary     string
}

// Adapter converts one tool's raw output into findings for gate.
type Adapter interface {
	Parse(gate evidence.Gate, out Output) Parsed
}

var adapters = map[string]Adapter{
	"ruff":       &RuffAdapter{},
	"pyright":    &PyrightAdapter{},
	"pytest":     &PytestAdapter{},
	"eslint":     &ESLintAdapter{},
	"typescript": &TypeScriptAdapter{},
	"vitest":     &VitestAdapter{},
	"prettier":   &PrettierAdapter{},
	"generic":    &GenericAdapter{},
}

// Lookup returns the adapter registered under name.
func Lookup(name string) (Adapter, error) {
	a, ok := adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown parser %q (known: %s)", name, strings.Join(AdapterNames(), ", "))
	}
	return a, nil
}

// AdapterNames lists the registered adapter names, sorted.
func AdapterNames() []string {
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// relPath makes p relative to root when it is an absolute path inside root.
// Anything else is returned slash-separated and otherwise untouched.
func relPath(root, p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) && root != "" {
		if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
			p = rel
		}
	}
	p = filepath.ToSlash(p)
	return strings.TrimPrefix(p, "./")
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	line, _, _ := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	if max > 0 && len(line) > max {
		n := max
		for n > 0 && !utf8.RuneStart(line[n]) {
			n--
		}
		line = line[:n]
	}
	return line
}
