package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antoleandarius/copilot-fix-bridge/internal/api/middleware"
	"github.com/antoleandarius/copilot-fix-bridge/internal/api/shared"
	"github.com/antoleandarius/copilot-fix-bridge/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	var gotTraceID string
	var hadLogger bool

	handler := middleware.TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = shared.GetTraceID(r.Context())
		hadLogger = logger.FromContextOrDefault(r.Context(), nil) != nil
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, gotTraceID, 32, "handler should see the generated trace ID")
	assert.True(t, hadLogger, "handler should see the trace-scoped logger")
}
