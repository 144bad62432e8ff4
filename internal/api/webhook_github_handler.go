package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/antoleandarius/copilot-fix-bridge/internal/api/shared"
	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/logger"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/callback"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
)

// fixBranchPattern extracts the ticket key from branches created by the
// fallback workflow, e.g. "fix/PROJ-123" or "fix/PROJ-123-null-check".
var fixBranchPattern = regexp.MustCompile(`^fix/([A-Za-z][A-Za-z0-9]*-\d+)`)

// GitHubPRWebhookRequest is the subset of the pull_request webhook
// payload the handler inspects.
type GitHubPRWebhookRequest struct {
	Action      string            `json:"action" validate:"required"`
	PullRequest GitHubPullRequest `json:"pull_request"`
}

// GitHubPullRequest carries the fields used to build the run result.
type GitHubPullRequest struct {
	HTMLURL string         `json:"html_url"`
	Number  int            `json:"number"`
	Title   string         `json:"title"`
	Head    GitHubPRBranch `json:"head"`
}

// GitHubPRBranch identifies the PR's source branch.
type GitHubPRBranch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// GitHubPRWebhookHandler completes fallback runs. Runs dispatched through
// repository_dispatch have no provider run ID and no callback, so the PR
// opened by the workflow is the only completion signal.
type GitHubPRWebhookHandler struct {
	runs        store.RunStore
	completions *callback.Service
	logger      *slog.Logger
}

// NewGitHubPRWebhookHandler creates a handler for pull_request webhook
// deliveries.
func NewGitHubPRWebhookHandler(runs store.RunStore, completions *callback.Service, logger *slog.Logger) *GitHubPRWebhookHandler {
	if runs == nil {
		panic("run store is required")
	}
	if completions == nil {
		panic("callback service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHubPRWebhookHandler{
		runs:        runs,
		completions: completions,
		logger:      logger.With(slog.String("component", "github_pr_handler")),
	}
}

// Handle correlates an opened PR back to its run via the branch name and
// applies the completion through the same path the provider callback uses.
func (h *GitHubPRWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContextOrDefault(ctx, h.logger)

	var req GitHubPRWebhookRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if req.Action != "opened" {
		h.respondIgnored(w, r, fmt.Sprintf("unsupported action %q", req.Action))
		return
	}
	match := fixBranchPattern.FindStringSubmatch(req.PullRequest.Head.Ref)
	if match == nil {
		h.respondIgnored(w, r, fmt.Sprintf("branch %q is not a fix branch", req.PullRequest.Head.Ref))
		return
	}
	ticketKey := match[1]

	run, err := h.runs.FindActiveRunByTicket(ctx, ticketKey)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			h.respondIgnored(w, r, fmt.Sprintf("no active run for ticket %s", ticketKey))
			return
		}
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	run, err = h.completions.HandleCompletion(ctx, run.ID, callback.Completion{
		Status:    domain.RunStatusCompleted,
		PRURL:     req.PullRequest.HTMLURL,
		PRNumber:  req.PullRequest.Number,
		Branch:    req.PullRequest.Head.Ref,
		CommitSHA: req.PullRequest.Head.SHA,
		Summary:   req.PullRequest.Title,
		Source:    "fallback",
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("fallback run completed by pull request",
		slog.String("run_id", run.ID.String()),
		slog.String("ticket_key", ticketKey),
		slog.Int("pr_number", req.PullRequest.Number))
	shared.RespondWithJSON(w, r, http.StatusOK, CallbackResponse{
		RunID:  run.ID.String(),
		Status: string(run.Status),
	})
}

func (h *GitHubPRWebhookHandler) respondIgnored(w http.ResponseWriter, r *http.Request, reason string) {
	shared.RespondWithJSON(w, r, http.StatusOK, IgnoredResponse{Status: "ignored", Reason: reason})
}
