package config

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/brief"
	"github.com/lucasnoah/qualitygate/internal/evidence"
	"github.com/lucasnoah/qualitygate/internal/fix"
	"github.com/lucasnoah/qualitygate/internal/gates"
	"github.com/lucasnoah/qualitygate/internal/repair"
)

// RepairPolicy returns the repair budgets.
func (c *Config) RepairPolicy() repair.Policy {
	return repair.Policy{
		MaxAttempts:          c.Policy.MaxAttempts,
		MaxPatchLines:        c.Policy.MaxPatchLines,
		AbortOnNoImprovement: c.Policy.AbortOnNoImprovement,
		TimeCap:              time.Duration(c.Policy.TimeCapSeconds) * time.Second,
	}
}

// RetryPolicy returns the budgets as shown in the agent brief.
func (c *Config) RetryPolicy() brief.RetryPolicy {
	return brief.RetryPolicy{
		MaxAttempts:          c.Policy.MaxAttempts,
		MaxPatchLines:        c.Policy.MaxPatchLines,
		AbortOnNoImprovement: c.Policy.AbortOnNoImprovement,
		TimeCapSeconds:       c.Policy.TimeCapSeconds,
	}
}

// GateConfigs returns the orchestrator gate plan. Report paths are resolved
// against root.
func (c *Config) GateConfigs(root string) ([]gates.GateConfig, error) {
	var out []gates.GateConfig
	for _, g := range []struct {
		gate evidence.Gate
		cfg  Gate
	}{
		{evidence.GateLint, c.Gates.Lint},
		{evidence.GateTypecheck, c.Gates.Typecheck},
		{evidence.GateTest, c.Gates.Test},
	} {
		timeout, err := parseTimeout(g.cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("gates.%s.timeout: %w", g.gate, err)
		}
		gc := gates.GateConfig{
			Gate:         g.gate,
			Enabled:      g.cfg.Enabled,
			Command:      g.cfg.Command,
			Parser:       g.cfg.Parser,
			Timeout:      timeout,
			Extensions:   g.cfg.Extensions,
			SuccessCodes: g.cfg.SuccessCodes,
		}
		if g.cfg.Report != "" {
			gc.Report = filepath.Join(root, filepath.FromSlash(g.cfg.Report))
		}
		out = append(out, gc)
	}
	return out, nil
}

// FixOptions returns the fix strategy options for root.
func (c *Config) FixOptions(root string, logger *zap.Logger) (fix.Options, error) {
	timeout, err := parseTimeout(c.Fix.Timeout)
	if err != nil {
		return fix.Options{}, fmt.Errorf("fix.timeout: %w", err)
	}

	var meter fix.Meter
	switch c.Fix.Meter {
	case "", "content":
		meter = &fix.ContentMeter{Root: root}
	case "git":
		meter = &fix.GitMeter{Root: root, Git: &fix.ExecGit{}}
	default:
		return fix.Options{}, fmt.Errorf("fix.meter: unknown meter %q", c.Fix.Meter)
	}

	cmds := make([]fix.Command, 0, len(c.Fix.Commands))
	for _, fc := range c.Fix.Commands {
		cmds = append(cmds, fix.Command{
			Name:            fc.Name,
			Command:         fc.Command,
			AcceptExitCodes: fc.AcceptExitCodes,
			Rationale:       fc.Rationale,
		})
	}

	return fix.Options{
		Root:       root,
		Commands:   cmds,
		Extensions: c.Fix.Extensions,
		MaxFiles:   c.Fix.MaxFiles,
		Timeout:    timeout,
		Meter:      meter,
		Logger:     logger,
	}, nil
}

// Commands returns the enabled gate commands followed by the fix commands.
func (c *Config) Commands() []string {
	var cmds []string
	for _, g := range []Gate{c.Gates.Lint, c.Gates.Typecheck, c.Gates.Test} {
		if g.Enabled {
			cmds = append(cmds, g.Command)
		}
	}
	for _, fc := range c.Fix.Commands {
		cmds = append(cmds, fc.Command)
	}
	return cmds
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}
