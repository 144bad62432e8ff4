package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/antoleandarius/copilot-fix-bridge/internal/backoff"
	"github.com/antoleandarius/copilot-fix-bridge/internal/breaker"
	"github.com/antoleandarius/copilot-fix-bridge/internal/config"
	"github.com/antoleandarius/copilot-fix-bridge/internal/events"
	"github.com/antoleandarius/copilot-fix-bridge/internal/metrics"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/agenthq"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/githubactions"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/jira"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/postgres"
	"github.com/antoleandarius/copilot-fix-bridge/internal/reconciler"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/callback"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/dispatch"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store/memstore"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB

	// Run registry (in-memory or postgres, per configuration)
	runs store.RunStore

	// Remote providers
	agentHQ *agenthq.Client

	// Dispatch pipeline
	breaker    *breaker.Breaker
	dispatcher *dispatch.Service

	// Completion pipeline
	eventEmitter events.EventEmitter
	completer    *callback.Service

	// Background reconciliation
	reconciler *reconciler.Reconciler
}

// newApplication creates a new application instance with all dependencies
// initialized. A nil db selects the in-memory run registry.
func newApplication(cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	if db != nil {
		app.runs = postgres.NewPostgresRunStore(db)
		logger.Info("Using PostgreSQL run registry")
	} else {
		app.runs = memstore.New()
		logger.Info("Using in-memory run registry")
	}

	app.agentHQ = agenthq.NewClient(cfg.AgentHQ, cfg.Dispatch.RequestTimeout,
		logger.With("component", "agenthq_client"))

	var fallbackClient remote.RunCreator
	if cfg.Dispatch.FallbackEnabled {
		fallbackClient = githubactions.NewClient(cfg.GitHub, cfg.Dispatch.RequestTimeout,
			logger.With("component", "github_actions_client"))
		logger.Info("Fallback dispatch path enabled",
			"repository", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo)
	}

	executor := backoff.NewExecutor(backoff.Policy{
		MaxRetries:        cfg.Dispatch.MaxRetries,
		InitialDelay:      cfg.Dispatch.InitialDelay,
		BackoffFactor:     cfg.Dispatch.BackoffFactor,
		MaxDelay:          cfg.Dispatch.MaxDelay,
		RespectRetryAfter: cfg.Dispatch.RespectRetryAfter,
	}, logger)
	executor.Retryable = remote.IsRetryable
	executor.RetryAfter = remote.RetryAfterHint

	app.breaker = breaker.New(breaker.Settings{
		Name:             "agenthq",
		FailureThreshold: cfg.Dispatch.FailureThreshold,
		RecoveryTimeout:  cfg.Dispatch.RecoveryTimeout,
		IsCounted:        remote.IsCounted,
		OnStateChange: func(name string, _, to breaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	}, logger)

	var err error
	app.dispatcher, err = dispatch.NewService(dispatch.ServiceConfig{
		Runs:       app.runs,
		Primary:    app.agentHQ,
		Fallback:   fallbackClient,
		Canceller:  app.agentHQ,
		Executor:   executor,
		Breaker:    app.breaker,
		Repository: cfg.GitHub.Owner + "/" + cfg.GitHub.Repo,
		BranchBase: cfg.GitHub.BranchBase,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch service: %w", err)
	}

	jiraClient := jira.NewClient(cfg.JIRA, cfg.Dispatch.RequestTimeout,
		logger.With("component", "jira_client"))

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(events.NewNotifierHandler(jiraClient,
		logger.With("component", "result_notifier")))
	app.eventEmitter = emitter

	app.completer, err = callback.NewService(app.runs, app.eventEmitter, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback service: %w", err)
	}

	if cfg.Reconciler.Enabled {
		app.reconciler = reconciler.New(app.runs, app.agentHQ, app.completer,
			reconciler.Config{
				Interval:         cfg.Reconciler.Interval,
				StuckRunAge:      cfg.Reconciler.StuckRunAge,
				DispatchDeadline: cfg.Reconciler.DispatchDeadline,
			}, logger)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// Run starts the application server, handling lifecycle and cleanup.
func (app *application) Run(ctx context.Context) error {
	if app.reconciler != nil {
		app.reconciler.Start()
	}

	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.reconciler != nil {
		app.reconciler.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
