package githubactions_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/config"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/githubactions"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *githubactions.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return githubactions.NewClient(config.GitHubConfig{
		Owner:     "example",
		Repo:      "widget",
		Token:     "gh-token",
		EventType: "copilot-fix",
	}, 5*time.Second, nil, githubactions.WithBaseURL(srv.URL))
}

func TestClient_CreateRun(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/example/widget/dispatches", r.URL.Path)
		assert.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))

	created, err := client.CreateRun(context.Background(), remote.RunInput{
		RunReference:  "6a1f0b9c-1111-2222-3333-444455556666",
		TicketKey:     "PROJ-123",
		TicketSummary: "Fix authentication bug",
		TicketURL:     "https://example.atlassian.net/browse/PROJ-123",
		BranchBase:    "main",
		BranchName:    "fix/PROJ-123",
	})
	require.NoError(t, err)
	assert.Empty(t, created.ProviderRunID, "repository_dispatch yields no run identifier")

	assert.Equal(t, "copilot-fix", gotBody["event_type"])
	payload, ok := gotBody["client_payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PROJ-123", payload["ticket_id"])
	assert.Equal(t, "fix/PROJ-123", payload["branch_name"])
	assert.Equal(t, "6a1f0b9c-1111-2222-3333-444455556666", payload["run_reference"])
}

func TestClient_CreateRun_APIError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
	}))

	_, err := client.CreateRun(context.Background(), remote.RunInput{TicketKey: "PROJ-123"})
	var apiErr *remote.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.True(t, remote.IsPermanent(err))
}

func TestClient_CreateRun_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := githubactions.NewClient(config.GitHubConfig{
		Owner:     "example",
		Repo:      "widget",
		Token:     "gh-token",
		EventType: "copilot-fix",
	}, time.Second, nil, githubactions.WithBaseURL(srv.URL))

	_, err := client.CreateRun(context.Background(), remote.RunInput{TicketKey: "PROJ-123"})
	require.ErrorIs(t, err, remote.ErrUnavailable)
}
