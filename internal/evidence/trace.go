package evidence

import "time"

// CommandTrace records one external tool invocation. Streams are captured,
// not interpreted.
type CommandTrace struct {
	Gate       Gate      `json:"gate,omitempty"`
	Command    string    `json:"command"`
	Dir        string    `json:"cwd"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	ExitCode   int       `json:"exit_code"`
	TimedOut   bool      `json:"timed_out"`
	ExecError  string    `json:"exec_error,omitempty"`
	Scoped     bool      `json:"scoped"`
	ScopeNote  string    `json:"scope_note,omitempty"`
	Stdout     string    `json:"stdout"`
	Stderr     string    `json:"stderr"`
}

// Duration returns the captured wall-clock duration.
func (t CommandTrace) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// Started reports whether the process was actually launched and ran to an
// exit status. Missing binaries under sh report 127 and count as not started.
func (t CommandTrace) Started() bool {
	return t.ExecError == "" && !t.TimedOut && t.ExitCode != 126 && t.ExitCode != 127
}
