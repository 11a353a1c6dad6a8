// Package cmdtmpl expands gate and fix command templates.
//
// {{name}} is replaced with its value; a variable missing from Vars is an error.
// {{#if name}}...{{/if}} blocks are kept only when the variable is non-empty.
package cmdtmpl

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars maps variable names to their expansions.
type Vars map[string]string

// Render expands tmpl with vars.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		m := varRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		if val, ok := vars[m[1]]; ok {
			return val
		}
		missing = append(missing, m[1])
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return strings.TrimSpace(expanded), nil
}

// Uses reports whether tmpl references the variable name, either directly or
// as a conditional.
func Uses(tmpl, name string) bool {
	for _, m := range varRe.FindAllStringSubmatch(tmpl, -1) {
		if m[1] == name {
			return true
		}
	}
	for _, m := range ifOpenRe.FindAllStringSubmatch(tmpl, -1) {
		if m[1] == name {
			return true
		}
	}
	return false
}

// Check parses tmpl without expanding it, reporting structural errors and the
// variables it needs that are not in allowed.
func Check(tmpl string, allowed []string) error {
	ok := make(Vars, len(allowed))
	for _, a := range allowed {
		ok[a] = "x"
	}
	_, err := Render(tmpl, ok)
	return err
}

// processConditionals resolves {{#if}} blocks innermost first.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringIndex(prefix, -1)
		if openLocs == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}

		lastOpen := openLocs[len(openLocs)-1]
		openStart, openEnd := lastOpen[0], lastOpen[1]

		m := ifOpenRe.FindStringSubmatch(prefix[openStart:openEnd])
		if m == nil {
			return "", fmt.Errorf("failed to parse conditional tag: %s", prefix[openStart:openEnd])
		}

		body := result[openEnd:closeIdx]
		closeEnd := closeIdx + len(ifCloseStr)

		var replacement string
		if val, ok := vars[m[1]]; ok && val != "" {
			replacement = body
		}
		result = result[:openStart] + replacement + result[closeEnd:]
	}

	if ifOpenRe.MatchString(result) {
		return "", fmt.Errorf("unclosed conditional block: %s", ifOpenRe.FindString(result))
	}
	return result, nil
}

// Quote shell-quotes a single argument for sh -c.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, needsQuote) == -1 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// Join quotes each argument and joins them with spaces.
func Join(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%+=:,./-_", r)
}
