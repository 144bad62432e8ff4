package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/antoleandarius/copilot-fix-bridge/internal/api/shared"
	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/logger"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/dispatch"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
)

// RunResponse is the API view of a run. Provider fields are filled from
// a live status lookup when the run is still executing remotely.
type RunResponse struct {
	Run      *domain.Run        `json:"run"`
	Provider *ProviderRunStatus `json:"provider,omitempty"`
}

// ProviderRunStatus is the live in-flight view reported by the remote
// provider.
type ProviderRunStatus struct {
	Status      string  `json:"status"`
	Progress    float64 `json:"progress,omitempty"`
	CurrentStep string  `json:"current_step,omitempty"`
}

// RunHandler serves run lookups and cancellation.
type RunHandler struct {
	runs       store.RunStore
	dispatcher *dispatch.Service
	status     remote.StatusChecker
	logger     *slog.Logger
}

// NewRunHandler creates a handler for the run API. The status checker is
// optional; without one, lookups return registry state only.
func NewRunHandler(runs store.RunStore, dispatcher *dispatch.Service, status remote.StatusChecker, logger *slog.Logger) *RunHandler {
	if runs == nil {
		panic("run store is required")
	}
	if dispatcher == nil {
		panic("dispatcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunHandler{
		runs:       runs,
		dispatcher: dispatcher,
		status:     status,
		logger:     logger.With(slog.String("component", "run_handler")),
	}
}

// GetRun returns the registry's record of a run, augmented with the
// provider's live view while the run is still executing there.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid run ID format", err)
		return
	}

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	resp := RunResponse{Run: run}
	if h.status != nil && run.Status == domain.RunStatusRunning && run.ProviderRunID != "" {
		if live, err := h.status.GetRunStatus(ctx, run.ProviderRunID); err != nil {
			// Registry state is still a valid answer on its own.
			log.Debug("live provider status unavailable",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()))
		} else {
			resp.Provider = &ProviderRunStatus{
				Status:      live.Status,
				Progress:    live.Progress,
				CurrentStep: live.CurrentStep,
			}
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// CancelRun cancels an in-flight run. Cancelling a run that is already
// cancelled is a no-op; cancelling one in any other terminal state is a
// conflict.
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid run ID format", err)
		return
	}

	run, err := h.dispatcher.Cancel(ctx, runID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("run cancelled",
		slog.String("run_id", run.ID.String()),
		slog.String("ticket_key", run.TicketKey))
	shared.RespondWithJSON(w, r, http.StatusOK, RunResponse{Run: run})
}
