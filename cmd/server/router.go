package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antoleandarius/copilot-fix-bridge/internal/api"
	apiMiddleware "github.com/antoleandarius/copilot-fix-bridge/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	jiraHandler := api.NewJiraWebhookHandler(
		app.dispatcher,
		app.runs,
		app.config.JIRA.BaseURL,
		app.logger,
	)
	callbackHandler := api.NewAgentHQCallbackHandler(app.completer, app.logger)
	prHandler := api.NewGitHubPRWebhookHandler(app.runs, app.completer, app.logger)
	runHandler := api.NewRunHandler(app.runs, app.dispatcher, app.agentHQ, app.logger)
	healthHandler := api.NewHealthHandler(app.breaker)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/jira", jiraHandler.Handle)
		r.Post("/agenthq", callbackHandler.Handle)
		r.Post("/github-pr", prHandler.Handle)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs/{id}", runHandler.GetRun)
		r.Post("/runs/{id}/cancel", runHandler.CancelRun)
	})

	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
