package gates

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/qualitygate/internal/evidence"
)

// GenericAdapter is the fallback for tools without structured output. Any
// non-zero exit becomes one finding named after the exit code.
type GenericAdapter struct{}

// maxExcerptLines caps how much output the synthesized message keeps.
const maxExcerptLines = 30

func (a *GenericAdapter) Parse(gate evidence.Gate, out Output) Parsed {
	msg := fmt.Sprintf("%s command failed with exit code %d", gate, out.ExitCode)
	combined := strings.TrimSpace(out.Stderr)
	if combined == "" {
		combined = strings.TrimSpace(out.Stdout)
	}
	if combined != "" {
		// Keep the tail: error summaries and tracebacks are usually at the end.
		lines := strings.Split(combined, "\n")
		if len(lines) > maxExcerptLines {
			lines = lines[len(lines)-maxExcerptLines:]
		}
		msg += "\n" + strings.Join(lines, "\n")
	}
	f := evidence.NewFinding(gate, evidence.SeverityError, fmt.Sprintf("exit-%d", out.ExitCode), "", 0, 0, msg)
	return Parsed{Findings: []evidence.Finding{f}, Summary: fmt.Sprintf("exit code %d", out.ExitCode)}
}
