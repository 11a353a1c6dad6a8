package config

// Config is the qgate configuration, read from qgate.toml, qgate.yaml or the
// [tool.qgate] table of pyproject.toml.
type Config struct {
	Policy   Policy   `toml:"policy" yaml:"policy"`
	Gates    Gates    `toml:"gates" yaml:"gates"`
	Fix      Fix      `toml:"fix" yaml:"fix"`
	Settings Settings `toml:"settings" yaml:"settings"`

	// Source is the file the config was read from, or "defaults".
	Source string `toml:"-" yaml:"-"`
	// Warnings lists keys that were present but not understood.
	Warnings []string `toml:"-" yaml:"-"`
}

// Policy holds the repair budgets.
type Policy struct {
	MaxAttempts          int `toml:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	MaxPatchLines        int `toml:"max_patch_lines" yaml:"max_patch_lines" validate:"gte=1"`
	AbortOnNoImprovement int `toml:"abort_on_no_improvement" yaml:"abort_on_no_improvement" validate:"gte=1"`
	TimeCapSeconds       int `toml:"time_cap_seconds" yaml:"time_cap_seconds" validate:"gte=1"`
}

// Gates configures the three gates. Unset fields keep their defaults.
type Gates struct {
	Lint      Gate `toml:"lint" yaml:"lint"`
	Typecheck Gate `toml:"typecheck" yaml:"typecheck"`
	Test      Gate `toml:"test" yaml:"test"`
}

// Gate configures one gate command.
type Gate struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Command string `toml:"command" yaml:"command"`
	Parser  string `toml:"parser" yaml:"parser"`
	Timeout string `toml:"timeout" yaml:"timeout"`
	// Report is relative to the project root.
	Report       string   `toml:"report,omitempty" yaml:"report,omitempty"`
	Extensions   []string `toml:"extensions" yaml:"extensions"`
	SuccessCodes []int    `toml:"success_codes" yaml:"success_codes"`
}

// Fix configures the deterministic fix strategy.
type Fix struct {
	Commands   []FixCommand `toml:"commands" yaml:"commands" validate:"dive"`
	Extensions []string     `toml:"extensions" yaml:"extensions"`
	MaxFiles   int          `toml:"max_files" yaml:"max_files" validate:"gte=1"`
	Timeout    string       `toml:"timeout" yaml:"timeout"`
	// Meter is how patch size is measured: content or git.
	Meter string `toml:"meter" yaml:"meter" validate:"oneof=content git"`
}

// FixCommand is one fixer invocation.
type FixCommand struct {
	Name            string `toml:"name" yaml:"name" validate:"required"`
	Command         string `toml:"command" yaml:"command" validate:"required"`
	AcceptExitCodes []int  `toml:"accept_exit_codes" yaml:"accept_exit_codes"`
	Rationale       string `toml:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// Settings are run-wide switches.
type Settings struct {
	TestInCanary bool `toml:"test_in_canary" yaml:"test_in_canary"`
	KeepBackups  bool `toml:"keep_backups" yaml:"keep_backups"`
	// HistoryDSN is a SQLite path or a postgres:// URL. Empty means
	// .qgate/history.db.
	HistoryDSN string `toml:"history_dsn,omitempty" yaml:"history_dsn,omitempty"`
}

// Default returns the built-in configuration for a Python project.
func Default() *Config {
	return &Config{
		Policy: Policy{
			MaxAttempts:          3,
			MaxPatchLines:        150,
			AbortOnNoImprovement: 2,
			TimeCapSeconds:       1200,
		},
		Gates: Gates{
			Lint: Gate{
				Enabled:    true,
				Command:    "ruff check --output-format json --exclude .qgate {{targets}}",
				Parser:     "ruff",
				Timeout:    "10m",
				Extensions: []string{".py", ".pyi"},
			},
			Typecheck: Gate{
				Enabled:    true,
				Command:    "pyright --outputjson {{targets}}",
				Parser:     "pyright",
				Timeout:    "10m",
				Extensions: []string{".py", ".pyi"},
			},
			Test: Gate{
				Enabled:      true,
				Command:      "pytest -q -rfE --json-report --json-report-file={{report}}",
				Parser:       "pytest",
				Timeout:      "10m",
				Report:       ".qgate/pytest-report.json",
				SuccessCodes: []int{0, 5},
			},
		},
		Fix: Fix{
			Commands: []FixCommand{
				{
					Name:            "RUFF_AUTOFIX",
					Command:         "ruff check --fix --exclude .qgate {{targets}}",
					AcceptExitCodes: []int{0, 1},
					Rationale:       "Apply safe ruff fixes on scoped files to clear auto-fixable lint issues.",
				},
				{
					Name:            "RUFF_FORMAT",
					Command:         "ruff format --exclude .qgate {{targets}}",
					AcceptExitCodes: []int{0},
					Rationale:       "Apply ruff formatting on scoped files.",
				},
			},
			Extensions: []string{".py"},
			MaxFiles:   20,
			Timeout:    "5m",
			Meter:      "content",
		},
		Source: SourceDefaults,
	}
}

// SourceDefaults is the Source of a config no file contributed to.
const SourceDefaults = "defaults"
