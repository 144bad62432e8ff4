// Package githubactions implements the fallback execution path: when
// the primary provider cannot accept a run, the dispatcher triggers a
// GitHub Actions workflow through the repository_dispatch API instead.
// The triggered workflow opens the fix PR itself; completion comes back
// through the pull-request webhook rather than a provider callback, so
// created runs carry no provider run ID.
package githubactions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/config"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
)

const apiBaseURL = "https://api.github.com"

// Client triggers repository_dispatch events on the configured repo.
type Client struct {
	baseURL   string
	owner     string
	repo      string
	token     string
	eventType string
	http      *http.Client
	logger    *slog.Logger
}

// Option adjusts client construction. Tests use WithBaseURL to point
// the client at a local server.
type Option func(*Client)

// WithBaseURL overrides the GitHub API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// NewClient creates a fallback dispatch client from configuration.
func NewClient(cfg config.GitHubConfig, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:   apiBaseURL,
		owner:     cfg.Owner,
		repo:      cfg.Repo,
		token:     cfg.Token,
		eventType: cfg.EventType,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.With("component", "githubactions_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies this execution path in logs and metrics.
func (c *Client) Name() string { return "github_actions" }

type dispatchRequest struct {
	EventType     string        `json:"event_type"`
	ClientPayload clientPayload `json:"client_payload"`
}

type clientPayload struct {
	RunReference      string `json:"run_reference"`
	TicketID          string `json:"ticket_id"`
	TicketSummary     string `json:"ticket_summary"`
	TicketDescription string `json:"ticket_description"`
	JiraURL           string `json:"jira_url"`
	BranchBase        string `json:"branch_base"`
	BranchName        string `json:"branch_name"`
}

// CreateRun triggers the fix workflow for the ticket. GitHub answers
// 204 with no body; there is no workflow run identifier to return.
func (c *Client) CreateRun(ctx context.Context, input remote.RunInput) (*remote.CreatedRun, error) {
	body, err := json.Marshal(dispatchRequest{
		EventType: c.eventType,
		ClientPayload: clientPayload{
			RunReference:      input.RunReference,
			TicketID:          input.TicketKey,
			TicketSummary:     input.TicketSummary,
			TicketDescription: input.TicketDescription,
			JiraURL:           input.TicketURL,
			BranchBase:        input.BranchBase,
			BranchName:        input.BranchName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode dispatch payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/dispatches", c.baseURL, c.owner, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, remote.NewError(resp.StatusCode, msg)
	}

	c.logger.InfoContext(ctx, "workflow dispatched",
		"ticket_key", input.TicketKey,
		"event_type", c.eventType)

	return &remote.CreatedRun{}, nil
}

var _ remote.RunCreator = (*Client)(nil)
