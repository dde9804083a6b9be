// Package app assembles a runner and its collaborators from configuration.
// Both the CLI and the server start from here.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"tfgate/internal/config"
	"tfgate/internal/core"
	"tfgate/internal/ledger"
	"tfgate/internal/metrics"
	"tfgate/internal/security"
	"tfgate/internal/storage"
	"tfgate/internal/store"
)

// App is a fully wired runner plus the resources it holds open.
type App struct {
	Config    config.Config
	Pipeline  *core.Pipeline
	Runner    *core.Runner
	Ledger    *ledger.Ledger
	Runs      *store.RunRepo
	Artifacts *storage.ArtifactStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	db *sql.DB
}

// Build loads the pipeline definition, signing keys, ledger and history
// database named by cfg and wires them into a runner.
func Build(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	pipeline, err := core.LoadPipeline(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	_, priv, created, err := security.EnsureKeyPair(cfg.KeyDir)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	if created {
		logger.Info("generated new ledger signing keys", "dir", cfg.KeyDir)
	}

	l, err := ledger.Open(cfg.LedgerPath, priv)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Pipeline:  pipeline,
		Ledger:    l,
		Artifacts: storage.NewArtifactStore(cfg.ArtifactDir),
		Metrics:   metrics.New(),
		Logger:    logger,
	}

	if cfg.DBPath != "" {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.Runs = &store.RunRepo{DB: db}
	}

	opts := core.Options{
		WorkDir:     cfg.WorkDir,
		Adapter:     Adapter(cfg),
		Artifacts:   a.Artifacts,
		Ledger:      l,
		Metrics:     a.Metrics,
		Logger:      logger,
		MaxParallel: cfg.MaxParallel,
		AutoApprove: cfg.AutoApprove,
		AgentID:     cfg.AgentID,
		Runs:        a.History(),
	}
	a.Runner = core.NewRunner(pipeline, opts)
	return a, nil
}

// Adapter selects the remote agent when one is configured and the local
// shell otherwise.
func Adapter(cfg config.Config) core.ToolAdapter {
	if cfg.AgentURL != "" {
		return core.NewAgentExecutor(cfg.AgentURL)
	}
	return core.NewExecutor(cfg.StepTimeout)
}

// History returns the run history, or nil when no database is configured.
func (a *App) History() core.RunRepository {
	if a.Runs == nil {
		return nil
	}
	return a.Runs
}

// Close releases the history database.
func (a *App) Close() error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
