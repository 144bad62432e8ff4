// Package main implements a mock agent-execution provider for local
// testing. It accepts run creation requests, simulates agent execution
// step by step, and posts the completion webhook back to the bridge,
// echoing the run reference the bridge supplied so the callback
// correlates.
//
// Configuration for a locally running bridge:
//
//	BRIDGE_AGENTHQ_BASE_URL=http://localhost:8001
//	BRIDGE_AGENTHQ_API_KEY=any_value_works
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type runInput struct {
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
	Input      runInput          `json:"input"`
	WebhookURL string            `json:"webhook_url"`
	Metadata   map[string]string `json:"metadata"`
}

// mockRun is the server's record of a simulated run.
type mockRun struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress"`
	CurrentStep string    `json:"current_step"`
	TicketID    string    `json:"ticket_id"`
	PRURL       string    `json:"pr_url,omitempty"`
	PRNumber    int       `json:"pr_number,omitempty"`
	BranchName  string    `json:"branch_name,omitempty"`
	CommitSHA   string    `json:"commit_sha,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	input      runInput
	webhookURL string
}

// executionSteps mirrors what a real agent run reports while working.
var executionSteps = []struct {
	name     string
	progress float64
}{
	{"Initializing agent", 0.05},
	{"Analyzing ticket", 0.15},
	{"Searching codebase for related files", 0.30},
	{"Analyzing code context", 0.45},
	{"Generating code fix", 0.65},
	{"Running tests on generated code", 0.80},
	{"Committing changes", 0.90},
	{"Creating pull request", 1.0},
}

type mockServer struct {
	logger    *slog.Logger
	stepDelay time.Duration
	http      *http.Client

	mu   sync.Mutex
	runs map[string]*mockRun
}

func newMockServer(logger *slog.Logger, stepDelay time.Duration) *mockServer {
	return &mockServer{
		logger:    logger,
		stepDelay: stepDelay,
		http:      &http.Client{Timeout: 10 * time.Second},
		runs:      make(map[string]*mockRun),
	}
}

func main() {
	port := flag.Int("port", 8001, "port to listen on")
	stepDelay := flag.Duration("step-delay", 2*time.Second, "simulated duration of each execution step")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	srv := newMockServer(logger, *stepDelay)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", srv.handleRoot)
	r.Route("/v1/agents/runs", func(r chi.Router) {
		r.Post("/", srv.handleCreateRun)
		r.Get("/", srv.handleListRuns)
		r.Get("/{id}", srv.handleGetRun)
		r.Post("/{id}/cancel", srv.handleCancelRun)
	})

	logger.Info("Mock AgentHQ server starting", "port", *port, "step_delay", stepDelay.String())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", *port), r); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func (s *mockServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	total := len(s.runs)
	active := 0
	for _, run := range s.runs {
		if run.Status == "running" {
			active++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"service":     "mock-agenthq",
		"runs":        total,
		"active_runs": active,
	})
}

func (s *mockServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	runID := "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	now := time.Now().UTC()
	run := &mockRun{
		RunID:       runID,
		Status:      "running",
		CurrentStep: "Initializing",
		TicketID:    req.Input.TicketID,
		CreatedAt:   now,
		UpdatedAt:   now,
		input:       req.Input,
		webhookURL:  req.WebhookURL,
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	s.logger.Info("run created",
		"run_id", runID,
		"ticket_id", req.Input.TicketID,
		"run_reference", req.Input.RunReference,
		"webhook_url", req.WebhookURL)

	if req.WebhookURL != "" {
		go s.simulateExecution(runID)
	} else {
		s.logger.Warn("no webhook URL provided, run will never complete", "run_id", runID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":             runID,
		"status":             "running",
		"ticket_id":          req.Input.TicketID,
		"estimated_duration": int(s.stepDelay.Seconds()) * len(executionSteps),
	})
}

func (s *mockServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	run, ok := s.runs[chi.URLParam(r, "id")]
	var snapshot mockRun
	if ok {
		snapshot = *run
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *mockServer) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	runs := make([]mockRun, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, *run)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": len(runs)})
}

func (s *mockServer) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	s.mu.Lock()
	run, ok := s.runs[runID]
	if ok && run.Status == "running" {
		run.Status = "cancelled"
		run.UpdatedAt = time.Now().UTC()
	}
	var status string
	if ok {
		status = run.Status
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "run not found"})
		return
	}

	s.logger.Info("run cancelled", "run_id", runID)
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "status": status})
}

// simulateExecution walks the run through the execution steps and posts
// the completion webhook. A cancel observed between steps stops the
// simulation without a webhook, matching a provider that drops
// cancelled work silently.
func (s *mockServer) simulateExecution(runID string) {
	for _, step := range executionSteps {
		time.Sleep(s.stepDelay)

		s.mu.Lock()
		run, ok := s.runs[runID]
		if !ok || run.Status != "running" {
			s.mu.Unlock()
			s.logger.Info("simulation stopped", "run_id", runID)
			return
		}
		run.CurrentStep = step.name
		run.Progress = step.progress
		run.UpdatedAt = time.Now().UTC()
		s.mu.Unlock()

		s.logger.Info("execution step", "run_id", runID, "step", step.name, "progress", step.progress)
	}

	s.mu.Lock()
	run := s.runs[runID]
	run.Status = "completed"
	run.Progress = 1.0
	run.CurrentStep = "Completed"
	run.PRNumber = int(time.Now().UnixNano()%1000) + 1
	run.PRURL = fmt.Sprintf("https://github.com/%s/pull/%d", run.input.Repository, run.PRNumber)
	run.BranchName = run.input.BranchName
	run.CommitSHA = strings.ReplaceAll(uuid.NewString(), "-", "")[:7]
	run.UpdatedAt = time.Now().UTC()
	snapshot := *run
	s.mu.Unlock()

	s.sendCompletionWebhook(snapshot)
}

// sendCompletionWebhook posts the terminal report back to the bridge.
// The run_id field carries the bridge's run reference when one was
// supplied, since that is the identifier the bridge tracks.
func (s *mockServer) sendCompletionWebhook(run mockRun) {
	reference := run.input.RunReference
	if reference == "" {
		reference = run.RunID
	}

	payload := map[string]any{
		"run_id":      reference,
		"status":      run.Status,
		"ticket_id":   run.TicketID,
		"pr_url":      run.PRURL,
		"pr_number":   run.PRNumber,
		"branch_name": run.BranchName,
		"commit_sha":  run.CommitSHA,
		"agent_analysis": fmt.Sprintf("Successfully fixed %s: %s",
			run.TicketID, run.input.TicketSummary),
		"files_changed": []string{"src/main.go", "src/main_test.go"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode webhook payload", "run_id", run.RunID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, run.webhookURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("failed to build webhook request", "run_id", run.RunID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		s.logger.Error("webhook delivery failed", "run_id", run.RunID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	s.logger.Info("webhook delivered",
		"run_id", run.RunID,
		"reference", reference,
		"status_code", resp.StatusCode)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
