package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/antoleandarius/copilot-fix-bridge/internal/api/shared"
	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/logger"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/callback"
)

// AgentHQCallbackRequest is the completion report the agent provider
// POSTs when a run finishes. RunID echoes the reference the dispatcher
// supplied at creation time.
type AgentHQCallbackRequest struct {
	RunID        string   `json:"run_id" validate:"required,uuid"`
	Status       string   `json:"status" validate:"required"`
	PRURL        string   `json:"pr_url"`
	PRNumber     int      `json:"pr_number"`
	BranchName   string   `json:"branch_name"`
	CommitSHA    string   `json:"commit_sha"`
	Analysis     string   `json:"agent_analysis"`
	FilesChanged []string `json:"files_changed"`
	ErrorMessage string   `json:"error_message"`
}

// CallbackResponse acknowledges a processed completion report.
type CallbackResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// AgentHQCallbackHandler receives completion reports from the primary
// provider and applies them to the run registry.
type AgentHQCallbackHandler struct {
	completions *callback.Service
	logger      *slog.Logger
}

// NewAgentHQCallbackHandler creates a handler for provider completion
// callbacks.
func NewAgentHQCallbackHandler(completions *callback.Service, logger *slog.Logger) *AgentHQCallbackHandler {
	if completions == nil {
		panic("callback service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AgentHQCallbackHandler{
		completions: completions,
		logger:      logger.With(slog.String("component", "agenthq_callback_handler")),
	}
}

// Handle applies a completion report. Redelivered reports for a run that
// already reached the same terminal state are acknowledged with 200 and
// have no further effect.
func (h *AgentHQCallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	var req AgentHQCallbackRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	runID, err := uuid.Parse(req.RunID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid run ID format", err)
		return
	}
	status, err := domain.ParseRunStatus(req.Status)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Unrecognized run status", err)
		return
	}

	run, err := h.completions.HandleCompletion(ctx, runID, callback.Completion{
		Status:       status,
		PRURL:        req.PRURL,
		PRNumber:     req.PRNumber,
		Branch:       req.BranchName,
		CommitSHA:    req.CommitSHA,
		Summary:      req.Analysis,
		Files:        req.FilesChanged,
		ErrorMessage: req.ErrorMessage,
		Source:       "agent",
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("completion callback applied",
		slog.String("run_id", run.ID.String()),
		slog.String("status", string(run.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, CallbackResponse{
		RunID:  run.ID.String(),
		Status: string(run.Status),
	})
}
