// Package jira posts run outcomes back to the originating ticket as
// comments in the Atlassian document format.
package jira

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
	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
)

// Client talks to the JIRA REST API.
type Client struct {
	baseURL  string
	email    string
	apiToken string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a JIRA client from configuration.
func NewClient(cfg config.JIRAConfig, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		apiToken: cfg.APIToken,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With("component", "jira_client"),
	}
}

// Atlassian document format node types. Only the small subset the
// bridge emits is modeled.
type adfDoc struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Content []adfNode `json:"content"`
}

type adfNode struct {
	Type    string    `json:"type"`
	Text    string    `json:"text,omitempty"`
	Marks   []adfMark `json:"marks,omitempty"`
	Content []adfNode `json:"content,omitempty"`
}

type adfMark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

type commentRequest struct {
	Body adfDoc `json:"body"`
}

func paragraph(nodes ...adfNode) adfNode {
	return adfNode{Type: "paragraph", Content: nodes}
}

func text(s string) adfNode {
	return adfNode{Type: "text", Text: s}
}

func strong(s string) adfNode {
	return adfNode{Type: "text", Text: s, Marks: []adfMark{{Type: "strong"}}}
}

func link(label, href string) adfNode {
	return adfNode{Type: "text", Text: label, Marks: []adfMark{{
		Type:  "link",
		Attrs: map[string]any{"href": href},
	}}}
}

// PostRunResult posts the run's outcome as a comment on its ticket.
func (c *Client) PostRunResult(ctx context.Context, run *domain.Run) error {
	doc := buildResultDoc(run)
	if doc == nil {
		// Nothing worth commenting for this outcome.
		return nil
	}

	body, err := json.Marshal(commentRequest{Body: *doc})
	if err != nil {
		return fmt.Errorf("failed to encode comment body: %w", err)
	}

	url := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, run.TicketKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(c.email, c.apiToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return remote.NewError(resp.StatusCode, msg)
	}

	c.logger.InfoContext(ctx, "result comment posted",
		"ticket_key", run.TicketKey,
		"run_status", string(run.Status))

	return nil
}

// buildResultDoc renders the run outcome as an ADF document. Cancelled
// runs produce no comment; the cancellation was operator-initiated.
func buildResultDoc(run *domain.Run) *adfDoc {
	switch run.Status {
	case domain.RunStatusCompleted:
		if run.Result == nil {
			return nil
		}
		content := []adfNode{
			paragraph(
				strong("Pull Request created: "),
				link(run.Result.PRURL, run.Result.PRURL),
			),
		}
		if run.Result.PRNumber > 0 {
			content = append(content, paragraph(
				text(fmt.Sprintf("PR #%d on branch %s", run.Result.PRNumber, run.Result.Branch)),
			))
		}
		if run.Result.Summary != "" {
			content = append(content, paragraph(text(run.Result.Summary)))
		}
		return &adfDoc{Type: "doc", Version: 1, Content: content}

	case domain.RunStatusFailed:
		msg := "Automated fix failed."
		if run.Failure != nil && run.Failure.Message != "" {
			msg = "Automated fix failed: " + run.Failure.Message
		}
		return &adfDoc{Type: "doc", Version: 1, Content: []adfNode{
			paragraph(strong(msg)),
		}}

	default:
		return nil
	}
}
