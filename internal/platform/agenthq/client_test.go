package agenthq_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/config"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/agenthq"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*agenthq.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := agenthq.NewClient(config.AgentHQConfig{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		CallbackURL: "https://bridge.example.com/webhooks/agenthq",
	}, 5*time.Second, nil)

	return client, srv
}

func sampleInput() remote.RunInput {
	return remote.RunInput{
		RunReference:      "6a1f0b9c-1111-2222-3333-444455556666",
		TicketKey:         "PROJ-123",
		TicketSummary:     "Fix authentication bug",
		TicketDescription: "Users cannot login with SSO",
		TicketURL:         "https://example.atlassian.net/browse/PROJ-123",
		Repository:        "owner/repo",
		BranchBase:        "main",
		BranchName:        "fix/PROJ-123",
	}
}

func TestClient_CreateRun(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/agents/runs", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run_id":             "run_abc123def456",
			"status":             "running",
			"estimated_duration": 120,
		})
	}))

	created, err := client.CreateRun(context.Background(), sampleInput())
	require.NoError(t, err)
	assert.Equal(t, "run_abc123def456", created.ProviderRunID)
	assert.Equal(t, 120, created.EstimatedDuration)

	input, ok := gotBody["input"].(map[string]any)
	require.True(t, ok, "request body should carry an input object")
	assert.Equal(t, "jira_fix", input["task_type"])
	assert.Equal(t, "PROJ-123", input["ticket_id"])
	assert.Equal(t, "fix/PROJ-123", input["branch_name"])
	assert.Equal(t, "6a1f0b9c-1111-2222-3333-444455556666", input["run_reference"])
	assert.Equal(t, "https://bridge.example.com/webhooks/agenthq", gotBody["webhook_url"])
}

func TestClient_CreateRun_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "server error is retryable and counted",
			status: http.StatusInternalServerError,
			body:   `{"error":"execution backend down"}`,
			check: func(t *testing.T, err error) {
				var apiErr *remote.Error
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
				assert.Equal(t, "execution backend down", apiErr.Message)
				assert.True(t, remote.IsRetryable(err))
				assert.True(t, remote.IsCounted(err))
			},
		},
		{
			name:   "client error is permanent",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":"unknown repository"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsPermanent(err))
				assert.False(t, remote.IsRetryable(err))
			},
		},
		{
			name:    "rate limit carries retry-after hint",
			status:  http.StatusTooManyRequests,
			headers: map[string]string{"Retry-After": "7"},
			body:    `{"error":"rate limited"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsRetryable(err))
				assert.False(t, remote.IsCounted(err), "rate limits must not trip the breaker")
				hint, ok := remote.RetryAfterHint(err)
				require.True(t, ok)
				assert.Equal(t, 7*time.Second, hint)
			},
		},
		{
			name:   "non-json error body preserved",
			status: http.StatusBadGateway,
			body:   "upstream exploded",
			check: func(t *testing.T, err error) {
				var apiErr *remote.Error
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, "upstream exploded", apiErr.Message)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := client.CreateRun(context.Background(), sampleInput())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_CreateRun_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	client := agenthq.NewClient(config.AgentHQConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, time.Second, nil)

	_, err := client.CreateRun(context.Background(), sampleInput())
	require.ErrorIs(t, err, remote.ErrUnavailable)
	assert.True(t, remote.IsRetryable(err))
	assert.True(t, remote.IsCounted(err))
}

func TestClient_CreateRun_ContextCancelled(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read can observe the
		// client disconnect and cancel the request context.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.CreateRun(ctx, sampleInput())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, remote.IsRetryable(err), "cancellation is not retried")
}

func TestClient_GetRunStatus(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/agents/runs/run_abc123def456", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run_id":        "run_abc123def456",
			"status":        "completed",
			"progress":      1.0,
			"pr_url":        "https://github.com/owner/repo/pull/456",
			"pr_number":     456,
			"branch_name":   "fix/PROJ-123",
			"commit_sha":    "abc123def456789",
			"files_changed": []string{"auth/oauth.go"},
		})
	}))

	status, err := client.GetRunStatus(context.Background(), "run_abc123def456")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, "https://github.com/owner/repo/pull/456", status.PRURL)
	assert.Equal(t, 456, status.PRNumber)
	assert.Equal(t, []string{"auth/oauth.go"}, status.FilesChanged)
}

func TestClient_GetRunStatus_NotFound(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"run not found"}`))
	}))

	_, err := client.GetRunStatus(context.Background(), "run_missing")
	var apiErr *remote.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_CancelRun(t *testing.T) {
	t.Parallel()

	var called bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/agents/runs/run_abc123def456/cancel", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.CancelRun(context.Background(), "run_abc123def456"))
	assert.True(t, called)
}
