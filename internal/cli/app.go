package cli

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/lucasnoah/qualitygate/internal/artifacts"
	"github.com/lucasnoah/qualitygate/internal/config"
	"github.com/lucasnoah/qualitygate/internal/db"
	"github.com/lucasnoah/qualitygate/internal/fix"
	"github.com/lucasnoah/qualitygate/internal/gates"
	"github.com/lucasnoah/qualitygate/internal/metrics"
	"github.com/lucasnoah/qualitygate/internal/workspace"
)

// app bundles what the gate and repair commands share for one invocation.
type app struct {
	root    string
	cfg     *config.Config
	store   *artifacts.Store
	metrics *metrics.Recorder
	history *db.DB
	log     *zap.Logger
}

func projectRoot() (string, error) {
	root, err := filepath.Abs(flagDir)
	if err != nil {
		return "", usageError("resolve --dir: %v", err)
	}
	return root, nil
}

// loadConfig reads --config, or searches the project root.
func loadConfig(root string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.LoadDefault(root)
	}
	if err != nil {
		return nil, usageError("%v", err)
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("source", cfg.Source), zap.String("warning", w))
	}
	return cfg, nil
}

// newApp loads and validates the configuration, prepares the artifact
// directory and opens the history store. A history store that cannot be
// opened is logged and skipped.
func newApp() (*app, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, usageError("invalid configuration (%s): %s", cfg.Source, strings.Join(msgs, "; "))
	}

	a := &app{
		root:    root,
		cfg:     cfg,
		store:   artifacts.NewStore(root),
		metrics: metrics.New(),
		log:     logger,
	}
	if err := a.store.Ensure(); err != nil {
		return nil, err
	}

	if !flagNoHistory {
		dsn := historyDSN(cfg, a.store)
		h, err := db.Open(dsn)
		if err == nil {
			err = h.Migrate()
			if err != nil {
				h.Close()
			}
		}
		if err != nil {
			a.log.Warn("history disabled", zap.String("backend", string(db.BackendOf(dsn))), zap.Error(err))
		} else {
			a.history = h
		}
	}
	return a, nil
}

// historyDSN picks --history-dsn, then settings.history_dsn, then
// .qgate/history.db.
func historyDSN(cfg *config.Config, store *artifacts.Store) string {
	switch {
	case flagHistoryDSN != "":
		return flagHistoryDSN
	case cfg.Settings.HistoryDSN != "":
		return cfg.Settings.HistoryDSN
	}
	return store.HistoryPath()
}

// close flushes metrics and closes the history store.
func (a *app) close() {
	if flagMetricsFile != "" {
		if err := a.metrics.WriteFile(flagMetricsFile); err != nil {
			a.log.Warn("metrics not written", zap.Error(err))
		}
	}
	if a.history != nil {
		a.history.Close()
	}
}

func (a *app) orchestrator() (*gates.Orchestrator, error) {
	gcs, err := a.cfg.GateConfigs(a.root)
	if err != nil {
		return nil, usageError("%v", err)
	}
	return gates.New(commandRunner, gates.Options{
		Root:         a.root,
		Gates:        gcs,
		TestInCanary: a.cfg.Settings.TestInCanary,
		Logger:       a.log.Named("gates"),
		Metrics:      a.metrics,
	})
}

func (a *app) fixer() (*fix.CommandStrategy, error) {
	opts, err := a.cfg.FixOptions(a.root, a.log.Named("fix"))
	if err != nil {
		return nil, usageError("%v", err)
	}
	return fix.NewCommandStrategy(commandRunner, opts)
}

func (a *app) workspaceManager() *workspace.Manager {
	return workspace.NewManager(a.root, a.store.BackupDir(), a.log.Named("workspace"))
}

// record runs fn against the history store when it is open. Failures are
// logged; history never changes a run's outcome.
func (a *app) record(what string, fn func(h *db.DB) error) {
	if a.history == nil {
		return
	}
	if err := fn(a.history); err != nil {
		a.log.Warn("history write failed", zap.String("record", what), zap.Error(err))
	}
}

func (a *app) rel(p string) string {
	if r, err := filepath.Rel(a.root, p); err == nil && !strings.HasPrefix(r, "..") {
		return r
	}
	return p
}
