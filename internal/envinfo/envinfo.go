// Package envinfo captures the platform and tool versions a run executed
// against, recorded into run metadata.
package envinfo

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Info describes the execution environment.
type Info struct {
	OS           string            `json:"os"`
	Arch         string            `json:"arch"`
	GoVersion    string            `json:"go_version"`
	ToolVersions map[string]string `json:"tool_versions"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// VersionFunc returns the version string of a tool, or an error if the tool
// cannot be run.
type VersionFunc func(ctx context.Context, tool string) (string, error)

// ExecVersion runs "<tool> --version" and returns the first line of output.
func ExecVersion(ctx context.Context, tool string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, tool, "--version").CombinedOutput()
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// Collect probes each tool with version. Tools that cannot be run are
// recorded as "unavailable" and produce a warning.
func Collect(ctx context.Context, tools []string, version VersionFunc) Info {
	if version == nil {
		version = ExecVersion
	}
	info := Info{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		GoVersion:    runtime.Version(),
		ToolVersions: make(map[string]string, len(tools)),
	}
	for _, t := range tools {
		if _, done := info.ToolVersions[t]; done {
			continue
		}
		v, err := version(ctx, t)
		if err != nil || v == "" {
			info.ToolVersions[t] = "unavailable"
			info.Warnings = append(info.Warnings, t+" is not available on PATH")
			continue
		}
		info.ToolVersions[t] = v
	}
	return info
}

// ToolOf returns the executable name of a shell command line, skipping
// leading environment assignments and common launchers.
func ToolOf(command string) string {
	fields := strings.Fields(command)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if strings.Contains(f, "=") && !strings.HasPrefix(f, "-") {
			continue
		}
		switch f {
		case "npx", "uvx", "pipx", "poetry", "uv":
			if f == "poetry" || f == "uv" {
				// "poetry run ruff", "uv run ruff"
				if i+1 < len(fields) && fields[i+1] == "run" {
					i++
				}
			}
			continue
		case "python", "python3":
			if i+2 < len(fields) && fields[i+1] == "-m" {
				return fields[i+2]
			}
		}
		return f
	}
	return ""
}
