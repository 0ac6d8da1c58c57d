package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
	"github.com/lin-1259/ai-xiutu/internal/redact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requestWithLogger returns a request whose context carries a trace id and a
// logger writing to buf.
func requestWithLogger(buf *strings.Builder) *http.Request {
	l := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.WithValue(context.Background(), TraceIDKey, "test-trace-id")
	ctx = logger.WithLogger(ctx, l)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	return req.WithContext(ctx)
}

func TestRespondWithJSON(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	RespondWithJSON(w, req, http.StatusCreated, map[string]any{"status": "ok", "jobs": 2})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["jobs"])
}

func TestRespondWithJSONEncodingError(t *testing.T) {
	var logBuf strings.Builder
	w := httptest.NewRecorder()

	RespondWithJSON(w, requestWithLogger(&logBuf), http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, logBuf.String(), "failed to encode JSON response")
}

func TestRespondWithError(t *testing.T) {
	var logBuf strings.Builder
	w := httptest.NewRecorder()

	RespondWithError(w, requestWithLogger(&logBuf), http.StatusNotFound, "Job not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Job not found", response.Error)
	assert.Equal(t, "test-trace-id", response.TraceID)
}

func TestRespondWithErrorAndLog(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		elevate  bool
		expected string
	}{
		{name: "server error", status: http.StatusInternalServerError, expected: "level=ERROR"},
		{name: "client error", status: http.StatusBadRequest, expected: "level=DEBUG"},
		{name: "elevated client error", status: http.StatusConflict, elevate: true, expected: "level=WARN"},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: "level=WARN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var logBuf strings.Builder
			w := httptest.NewRecorder()
			var opts []ResponseOption
			if tc.elevate {
				opts = append(opts, WithElevatedLogLevel())
			}

			RespondWithErrorAndLog(w, requestWithLogger(&logBuf), tc.status, "Request failed",
				errors.New("store write failed"), opts...)

			assert.Equal(t, tc.status, w.Code)
			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "Request failed", response.Error)
			assert.NotContains(t, w.Body.String(), "store write failed")

			out := logBuf.String()
			assert.Contains(t, out, tc.expected)
			assert.Contains(t, out, "trace_id=test-trace-id")
			assert.Contains(t, out, "error_type=")
		})
	}
}

func TestRespondWithErrorAndLogRedactsSecrets(t *testing.T) {
	secret := "sk-live-0123456789abcdef"
	redact.RegisterSecret(secret)

	var logBuf strings.Builder
	w := httptest.NewRecorder()
	RespondWithErrorAndLog(w, requestWithLogger(&logBuf), http.StatusBadGateway, "Provider failed",
		errors.New("provider rejected key "+secret))

	assert.NotContains(t, logBuf.String(), secret)
	assert.NotContains(t, w.Body.String(), secret)
}
