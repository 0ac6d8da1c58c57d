package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/api"
	"github.com/lin-1259/ai-xiutu/internal/config"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		App:      config.AppConfig{DataDir: dir, LogLevel: "error", LogFormat: "text"},
		Server:   config.ServerConfig{Enabled: true, Addr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: driverMemory},
		Processing: config.ProcessingConfig{
			MaxConcurrentTasks: 2,
			DefaultMaxRetries:  3,
			OutputPath:         filepath.Join(dir, "output"),
			RateLimitWait:      time.Millisecond,
			RateLimitRetries:   1,
		},
		Cache: config.CacheConfig{
			Enabled:    true,
			Dir:        filepath.Join(dir, "cache"),
			MaxEntries: 10,
			MaxSizeMB:  1,
			Retention:  time.Hour,
		},
		Providers: config.ProvidersConfig{
			Current:        "gemini",
			RequestTimeout: time.Second,
		},
		Templates: []config.TemplateConfig{{ID: "sketch", Prompt: "Turn the photo into a pencil sketch"}},
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestApp(t *testing.T) (*application, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApplication(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	require.NoError(t, app.start(context.Background()))
	t.Cleanup(app.cleanup)
	return app, app.setupRouter()
}

func TestRouter_Health(t *testing.T) {
	_, router := newTestApp(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestRouter_TemplatesIncludeConfigured(t *testing.T) {
	_, router := newTestApp(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var list []domain.Template
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	var found bool
	for _, tpl := range list {
		if tpl.ID == "sketch" {
			found = true
			assert.False(t, tpl.BuiltIn)
		}
	}
	assert.True(t, found)
}

// With no provider credentials configured the job fails fast with a
// provider error and is persisted as Failed.
func TestRouter_UploadSubmitAndFail(t *testing.T) {
	app, router := newTestApp(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/images", bytes.NewReader(testPNG(t))))
	require.Equal(t, http.StatusCreated, w.Code)
	var img api.ImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &img))

	body := `{"imageId":"` + img.ImageID + `","templateId":"sketch","maxRetries":0}`
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code)
	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	require.Eventually(t, func() bool {
		got, err := app.taskRunner.Get(context.Background(), job.ID)
		return err == nil && got.Status == domain.JobStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/jobs/clear", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var cleared api.ClearJobsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cleared))
	assert.Equal(t, 1, cleared.Count)
}

func TestRouter_ProvidersMasked(t *testing.T) {
	_, router := newTestApp(t)

	body := `{"id":"local","endpoint":"http://127.0.0.1:9/edit","apiKey":"super-secret-key"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/providers", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "super-secret-key")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/providers/current", strings.NewReader(`{"id":"local"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current":"local"`)
}

func TestRunBatch_RequiresTemplate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApplication(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	assert.Error(t, app.RunBatch(context.Background(), t.TempDir()))
}
