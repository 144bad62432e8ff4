// Package agenthq implements the HTTP client for the primary
// agent-execution provider. The client is a thin wire adapter: it maps
// responses onto the remote package's types and error taxonomy and
// never retries on its own; retry and circuit-breaker policy belong to
// the dispatch layer.
package agenthq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/config"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
)

const userAgent = "copilot-fix-bridge/1.0"

// Client talks to the AgentHQ API.
type Client struct {
	baseURL     string
	apiKey      string
	callbackURL string
	http        *http.Client
	logger      *slog.Logger
}

// NewClient creates an AgentHQ client from configuration. The callback
// URL is handed to the provider on run creation so completion webhooks
// find their way back to this service.
func NewClient(cfg config.AgentHQConfig, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		callbackURL: cfg.CallbackURL,
		http:        &http.Client{Timeout: timeout},
		logger:      logger.With("component", "agenthq_client"),
	}
}

// Name identifies this execution path in logs and metrics.
func (c *Client) Name() string { return "agenthq" }

type runInputPayload struct {
	TaskType          string `json:"task_type"`
	RunReference      string `json:"run_reference"`
	TicketID          string `json:"ticket_id"`
	TicketSummary     string `json:"ticket_summary"`
	TicketDescription string `json:"ticket_description"`
	JiraURL           string `json:"jira_url"`
	Repository        string `json:"repository"`
	BranchBase        string `json:"branch_base"`
	BranchName        string `json:"branch_name"`
}

type createRunRequest struct {
	Input      runInputPayload   `json:"input"`
	WebhookURL string            `json:"webhook_url,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type createRunResponse struct {
	RunID             string `json:"run_id"`
	Status            string `json:"status"`
	EstimatedDuration int    `json:"estimated_duration"`
}

type runStatusResponse struct {
	RunID        string   `json:"run_id"`
	Status       string   `json:"status"`
	Progress     float64  `json:"progress"`
	CurrentStep  string   `json:"current_step"`
	PRURL        string   `json:"pr_url"`
	PRNumber     int      `json:"pr_number"`
	BranchName   string   `json:"branch_name"`
	CommitSHA    string   `json:"commit_sha"`
	Analysis     string   `json:"agent_analysis"`
	FilesChanged []string `json:"files_changed"`
	ErrorMessage string   `json:"error_message"`
}

// CreateRun asks the provider to start a fix run for the ticket.
func (c *Client) CreateRun(ctx context.Context, input remote.RunInput) (*remote.CreatedRun, error) {
	reqBody := createRunRequest{
		Input: runInputPayload{
			TaskType:          "jira_fix",
			RunReference:      input.RunReference,
			TicketID:          input.TicketKey,
			TicketSummary:     input.TicketSummary,
			TicketDescription: input.TicketDescription,
			JiraURL:           input.TicketURL,
			Repository:        input.Repository,
			BranchBase:        input.BranchBase,
			BranchName:        input.BranchName,
		},
		WebhookURL: c.callbackURL,
		Metadata: map[string]string{
			"source":    "jira_webhook",
			"ticket_id": input.TicketKey,
		},
	}

	var resp createRunResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/agents/runs", reqBody, http.StatusCreated, &resp); err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "agent run created",
		"provider_run_id", resp.RunID,
		"ticket_key", input.TicketKey)

	return &remote.CreatedRun{
		ProviderRunID:     resp.RunID,
		EstimatedDuration: resp.EstimatedDuration,
	}, nil
}

// GetRunStatus polls the provider for a run's current state.
func (c *Client) GetRunStatus(ctx context.Context, providerRunID string) (*remote.RunStatus, error) {
	var resp runStatusResponse
	path := "/v1/agents/runs/" + providerRunID
	if err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}

	return &remote.RunStatus{
		ProviderRunID: resp.RunID,
		Status:        resp.Status,
		Progress:      resp.Progress,
		CurrentStep:   resp.CurrentStep,
		PRURL:         resp.PRURL,
		PRNumber:      resp.PRNumber,
		BranchName:    resp.BranchName,
		CommitSHA:     resp.CommitSHA,
		Analysis:      resp.Analysis,
		FilesChanged:  resp.FilesChanged,
		ErrorMessage:  resp.ErrorMessage,
	}, nil
}

// CancelRun asks the provider to abort an in-flight run.
func (c *Client) CancelRun(ctx context.Context, providerRunID string) error {
	path := "/v1/agents/runs/" + providerRunID + "/cancel"
	return c.doJSON(ctx, http.MethodPost, path, nil, http.StatusOK, nil)
}

// doJSON performs a request against the provider and decodes the
// response into out when the status matches wantStatus. Non-success
// responses become remote.Error; transport failures become
// remote.ErrUnavailable.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrInvalidResponse, err)
	}
	return nil
}

// decodeAPIError turns a non-success response into a remote.Error,
// preserving the provider's error message and Retry-After hint.
func decodeAPIError(resp *http.Response) error {
	apiErr := &remote.Error{StatusCode: resp.StatusCode}

	var errBody struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &errBody) == nil && errBody.Error != "" {
		apiErr.Message = errBody.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	return apiErr
}

// parseRetryAfter handles the delta-seconds form of the Retry-After
// header. HTTP-date values are ignored; the backoff policy's own delay
// applies then.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var _ remote.RunCreator = (*Client)(nil)
var _ remote.StatusChecker = (*Client)(nil)
var _ remote.RunCanceller = (*Client)(nil)
