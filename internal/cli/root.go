package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lucasnoah/qualitygate/internal/envinfo"
	"github.com/lucasnoah/qualitygate/internal/gates"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// Process exit codes.
const (
	ExitPass      = 0
	ExitFail      = 1
	ExitEscalated = 2
	ExitUsage     = 3
	ExitInternal  = 4
)

// ExitError carries a process exit code to main. Err is nil when the
// command already reported the outcome.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(format string, args ...any) error {
	return &ExitError{Code: ExitUsage, Err: fmt.Errorf(format, args...)}
}

// internalError marks a failure of qgate itself, such as a backup or restore
// that could not complete or an artifact that could not be written.
func internalError(err error) error {
	return &ExitError{Code: ExitInternal, Err: err}
}

// ExitCode maps an Execute error to the process exit code. Errors that are
// not an *ExitError are usage, configuration or input errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitPass
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitUsage
}

var (
	flagDir         string
	flagConfig      string
	flagLogLevel    string
	flagLogFormat   string
	flagMetricsFile string
	flagHistoryDSN  string
	flagNoHistory   bool
	flagNoColor     bool
	flagJSON        bool
)

var (
	logger = zap.NewNop()

	// commandRunner runs every gate and fix command.
	commandRunner gates.CommandRunner = &gates.ExecRunner{}
	versionProbe  envinfo.VersionFunc = envinfo.ExecVersion
)

var rootCmd = &cobra.Command{
	Use:   "qgate",
	Short: "Deterministic quality gates with a bounded repair loop",
	Long: `qgate runs lint, typecheck and test gates over a set of changed files,
normalizes their output into findings and can attempt bounded, reversible
deterministic repairs before escalating to a human.

Artifacts are written to .qgate/ in the project root; run history is kept in
.qgate/history.db unless --history-dsn points elsewhere.

Exit codes: 0 pass, 1 fail, 2 escalated, 3 usage or configuration error,
4 internal failure (backup, restore or artifact I/O).`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagNoColor {
			color.NoColor = true
		}
		l, err := newLogger(cmd.ErrOrStderr(), flagLogLevel, flagLogFormat)
		if err != nil {
			return usageError("%v", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newLogger builds the process logger writing to w.
func newLogger(w io.Writer, level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("invalid --log-format %q (want console or json)", format)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDir, "dir", ".", "project root")
	pf.StringVar(&flagConfig, "config", "", "config file (default: qgate.toml, qgate.yaml or pyproject.toml [tool.qgate])")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "console", "log format: console or json")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	pf.StringVar(&flagHistoryDSN, "history-dsn", "", "history database: a SQLite path or a postgres:// URL")
	pf.BoolVar(&flagNoHistory, "no-history", false, "do not record run history")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colored output")
	pf.BoolVar(&flagJSON, "json", false, "print results as JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}
