package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/antoleandarius/copilot-fix-bridge/internal/api/shared"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/logger"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/dispatch"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
)

// triggerLabel is the issue label that marks a ticket as eligible for
// automated dispatch.
const triggerLabel = "copilot-fix"

// acceptedWebhookEvents are the JIRA envelope event types that can carry
// a dispatchable issue. Everything else is acknowledged and ignored.
var acceptedWebhookEvents = map[string]bool{
	"jira:issue_created": true,
	"jira:issue_updated": true,
}

// JiraWebhookRequest is the subset of the JIRA webhook envelope the
// handler inspects.
type JiraWebhookRequest struct {
	WebhookEvent string    `json:"webhookEvent" validate:"required"`
	Issue        JiraIssue `json:"issue"`
}

// JiraIssue is the issue portion of the webhook envelope.
type JiraIssue struct {
	Key    string          `json:"key"`
	Fields JiraIssueFields `json:"fields"`
}

// JiraIssueFields carries the fields the dispatcher needs. Description
// arrives as a plain string on classic webhooks and as an ADF document
// on newer ones, so it is decoded lazily.
type JiraIssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"`
	Labels      []string        `json:"labels"`
}

// IgnoredResponse acknowledges a webhook delivery that did not trigger
// any action.
type IgnoredResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// DispatchAcceptedResponse is returned when a webhook delivery produced
// a new run.
type DispatchAcceptedResponse struct {
	RunID        string `json:"run_id"`
	Status       string `json:"status"`
	UsedFallback bool   `json:"used_fallback"`
}

// JiraWebhookHandler receives issue-tracker webhook deliveries and turns
// eligible ones into dispatched runs.
type JiraWebhookHandler struct {
	dispatcher  *dispatch.Service
	runs        store.RunStore
	jiraBaseURL string
	logger      *slog.Logger
}

// NewJiraWebhookHandler creates a handler for the dispatch trigger webhook.
func NewJiraWebhookHandler(dispatcher *dispatch.Service, runs store.RunStore, jiraBaseURL string, logger *slog.Logger) *JiraWebhookHandler {
	if dispatcher == nil {
		panic("dispatcher is required")
	}
	if runs == nil {
		panic("run store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JiraWebhookHandler{
		dispatcher:  dispatcher,
		runs:        runs,
		jiraBaseURL: strings.TrimRight(jiraBaseURL, "/"),
		logger:      logger.With(slog.String("component", "jira_webhook_handler")),
	}
}

// Handle processes a webhook delivery. Deliveries that do not match the
// trigger conditions are acknowledged with 200 so JIRA does not retry
// them; only eligible issues reach the dispatcher.
func (h *JiraWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	var req JiraWebhookRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if !acceptedWebhookEvents[req.WebhookEvent] {
		h.respondIgnored(w, r, fmt.Sprintf("unsupported event %q", req.WebhookEvent))
		return
	}
	if req.Issue.Key == "" {
		h.respondIgnored(w, r, "delivery carries no issue")
		return
	}
	if !hasLabel(req.Issue.Fields.Labels, triggerLabel) {
		h.respondIgnored(w, r, fmt.Sprintf("issue lacks the %q label", triggerLabel))
		return
	}

	// Repeated label edits must not spawn parallel runs for the same ticket.
	if active, err := h.runs.FindActiveRunByTicket(ctx, req.Issue.Key); err == nil && active != nil {
		log.Info("ignoring webhook for ticket with active run",
			slog.String("ticket_key", req.Issue.Key),
			slog.String("run_id", active.ID.String()))
		h.respondIgnored(w, r, fmt.Sprintf("run %s already active for %s", active.ID, req.Issue.Key))
		return
	}

	run, err := h.dispatcher.Dispatch(ctx, dispatch.Request{
		TicketKey:         req.Issue.Key,
		TicketSummary:     req.Issue.Fields.Summary,
		TicketDescription: flattenDescription(req.Issue.Fields.Description),
		TicketURL:         h.jiraBaseURL + "/browse/" + req.Issue.Key,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("webhook dispatched run",
		slog.String("ticket_key", req.Issue.Key),
		slog.String("run_id", run.ID.String()),
		slog.Bool("used_fallback", run.UsedFallback))
	shared.RespondWithJSON(w, r, http.StatusAccepted, DispatchAcceptedResponse{
		RunID:        run.ID.String(),
		Status:       string(run.Status),
		UsedFallback: run.UsedFallback,
	})
}

func (h *JiraWebhookHandler) respondIgnored(w http.ResponseWriter, r *http.Request, reason string) {
	shared.RespondWithJSON(w, r, http.StatusOK, IgnoredResponse{Status: "ignored", Reason: reason})
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}

// flattenDescription extracts plain text from a description field that
// may be either a JSON string or an ADF document.
func flattenDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var doc struct {
		Content []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ""
	}
	var b strings.Builder
	for _, block := range doc.Content {
		for _, node := range block.Content {
			if node.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(node.Text)
		}
	}
	return b.String()
}
