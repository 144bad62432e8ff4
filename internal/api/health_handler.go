package api

import (
	"net/http"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/api/shared"
	"github.com/antoleandarius/copilot-fix-bridge/internal/breaker"
)

// HealthResponse reports service liveness and the state of the dispatch
// circuit breaker.
type HealthResponse struct {
	Status   string             `json:"status"`
	Uptime   string             `json:"uptime"`
	Breakers []breaker.Snapshot `json:"breakers,omitempty"`
}

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	startedAt time.Time
	breakers  []*breaker.Breaker
}

// NewHealthHandler creates a health handler reporting on the given
// breakers.
func NewHealthHandler(breakers ...*breaker.Breaker) *HealthHandler {
	return &HealthHandler{
		startedAt: time.Now(),
		breakers:  breakers,
	}
}

// Handle reports 200 whenever the process can serve requests. An open
// breaker is visible in the body but does not fail the check; the
// fallback path keeps the service usable.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.startedAt).Round(time.Second).String(),
	}
	for _, b := range h.breakers {
		if b != nil {
			resp.Breakers = append(resp.Breakers, b.Snapshot())
		}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}
