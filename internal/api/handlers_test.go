package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/cache"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/events"
	"github.com/lin-1259/ai-xiutu/internal/ingest"
	"github.com/lin-1259/ai-xiutu/internal/provider"
	"github.com/lin-1259/ai-xiutu/internal/storage"
	"github.com/lin-1259/ai-xiutu/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStager struct {
	staged [][]byte
	err    error
}

func (f *fakeStager) Stage(ctx context.Context, data []byte) (domain.ImageRef, error) {
	if f.err != nil {
		return domain.ImageRef{}, f.err
	}
	f.staged = append(f.staged, data)
	return domain.ImageRef{ID: "img-1", MIME: "image/png", Size: int64(len(data)), StagedAt: time.Now()}, nil
}

func TestImageHandler_UploadImage(t *testing.T) {
	stager := &fakeStager{}
	h := NewImageHandler(stager, testLogger())
	payload := []byte("\x89PNG\r\n\x1a\nfake")

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/images", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "image/png")
		w := httptest.NewRecorder()
		h.UploadImage(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		var resp ImageResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "img-1", resp.ImageID)
		assert.Equal(t, storage.ContentHash(payload), resp.ContentHash)
		assert.Equal(t, int64(len(payload)), resp.Size)
	})

	t.Run("multipart", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "cat.png")
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/images", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		h.UploadImage(w, req)

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, payload, stager.staged[len(stager.staged)-1])
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.UploadImage(w, httptest.NewRequest(http.MethodPost, "/api/images", http.NoBody))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unsupported image", func(t *testing.T) {
		stager.err = fmt.Errorf("%w: %w", domain.ErrValidation, storage.ErrUnsupportedImage)
		w := httptest.NewRecorder()
		h.UploadImage(w, httptest.NewRequest(http.MethodPost, "/api/images", strings.NewReader("text")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// MockProviderRegistry implements ProviderRegistry over an in-memory list.
type MockProviderRegistry struct {
	configs []provider.Config
	current string
	updated provider.Config
}

func (m *MockProviderRegistry) List() []provider.Config { return m.configs }
func (m *MockProviderRegistry) Current() string         { return m.current }

func (m *MockProviderRegistry) AddCustomProvider(cfg provider.Config) error {
	for _, c := range m.configs {
		if c.ID == cfg.ID {
			return provider.ErrDuplicateProvider
		}
	}
	m.configs = append(m.configs, cfg)
	return nil
}

func (m *MockProviderRegistry) UpdateProviderConfig(id string, cfg provider.Config) error {
	m.updated = cfg
	return nil
}

func (m *MockProviderRegistry) RemoveCustomProvider(id string) error {
	if id == provider.GeminiID {
		return provider.ErrBuiltInProvider
	}
	return provider.ErrProviderNotFound
}

func (m *MockProviderRegistry) SetCurrent(id string) error {
	for _, c := range m.configs {
		if c.ID == id {
			m.current = id
			return nil
		}
	}
	return provider.ErrProviderNotFound
}

func providerRouter(reg ProviderRegistry) http.Handler {
	h := NewProviderHandler(reg, testLogger())
	r := chi.NewRouter()
	r.Get("/api/providers", h.ListProviders)
	r.Post("/api/providers", h.AddProvider)
	r.Put("/api/providers/current", h.SetCurrentProvider)
	r.Put("/api/providers/{id}", h.UpdateProvider)
	r.Delete("/api/providers/{id}", h.DeleteProvider)
	return r
}

func TestProviderHandler(t *testing.T) {
	reg := &MockProviderRegistry{
		configs: []provider.Config{{ID: provider.GeminiID, Kind: provider.KindGemini, BuiltIn: true}},
		current: provider.GeminiID,
	}
	router := providerRouter(reg)

	w := doRequest(t, router, http.MethodPost, "/api/providers",
		`{"id":"local","endpoint":"http://127.0.0.1:9000/edit","authMode":"none"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var resp ProvidersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Providers, 2)
	assert.True(t, resp.Providers[1].Enabled)
	assert.Equal(t, provider.KindGeneric, resp.Providers[1].Kind)

	w = doRequest(t, router, http.MethodPost, "/api/providers", `{"id":"local","endpoint":"http://127.0.0.1:9000"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/providers", `{"endpoint":"http://127.0.0.1:9000"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/providers", `{"id":"x","endpoint":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, router, http.MethodPut, "/api/providers/local", `{"enabled":false,"baseDelayMs":250}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local", reg.updated.ID)
	assert.False(t, reg.updated.Enabled)
	assert.Equal(t, 250*time.Millisecond, reg.updated.BaseDelay)

	w = doRequest(t, router, http.MethodPut, "/api/providers/current", `{"id":"local"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local", reg.current)

	w = doRequest(t, router, http.MethodPut, "/api/providers/current", `{"id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/api/providers/"+provider.GeminiID, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, router, http.MethodDelete, "/api/providers/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeTemplates []domain.Template

func (f fakeTemplates) List() []domain.Template { return f }

type fakeCache struct {
	cleared  bool
	clearErr error
}

func (f *fakeCache) Stats() cache.Stats { return cache.Stats{Entries: 2, Hits: 5} }
func (f *fakeCache) Clear() error {
	f.cleared = true
	return f.clearErr
}

func TestSystemHandler(t *testing.T) {
	c := &fakeCache{}
	h := NewSystemHandler(fakeTemplates{{ID: "enhance", Name: "Enhance", BuiltIn: true}}, c, testLogger())

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ListTemplates(w, httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	var list []domain.Template
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "enhance", list[0].ID)

	w = httptest.NewRecorder()
	h.CacheStats(w, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, float64(2), stats["entries"])

	w = httptest.NewRecorder()
	h.ClearCache(w, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, c.cleared)

	c.clearErr = errors.New("disk full")
	w = httptest.NewRecorder()
	h.ClearCache(w, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to clear cache", decodeError(t, w).Error)
}

func TestSystemHandler_CacheDisabled(t *testing.T) {
	h := NewSystemHandler(fakeTemplates{}, nil, testLogger())

	w := httptest.NewRecorder()
	h.CacheStats(w, httptest.NewRequest(http.MethodGet, "/api/cache/stats", nil))
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, false, stats["enabled"])

	w = httptest.NewRecorder()
	h.ClearCache(w, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

type fakeHotFolder struct {
	state    ingest.State
	startErr error
	batchErr error
	batchDir string
}

func (f *fakeHotFolder) Status() ingest.Status { return ingest.Status{State: f.state} }
func (f *fakeHotFolder) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.state = ingest.StateRunning
	return nil
}
func (f *fakeHotFolder) Stop() { f.state = ingest.StateStopped }
func (f *fakeHotFolder) ProcessDirectory(ctx context.Context, dir string) (int, error) {
	f.batchDir = dir
	return 3, f.batchErr
}

func TestHotFolderHandler(t *testing.T) {
	hf := &fakeHotFolder{state: ingest.StateStopped}
	h := NewHotFolderHandler(hf, testLogger())
	r := chi.NewRouter()
	r.Get("/api/hotfolder", h.Status)
	r.Post("/api/hotfolder/start", h.Start)
	r.Post("/api/hotfolder/stop", h.Stop)
	r.Post("/api/hotfolder/batch", h.Batch)

	w := doRequest(t, r, http.MethodPost, "/api/hotfolder/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ingest.StateRunning, hf.state)

	hf.startErr = ingest.ErrAlreadyRunning
	w = doRequest(t, r, http.MethodPost, "/api/hotfolder/start", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, r, http.MethodPost, "/api/hotfolder/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ingest.StateStopped, hf.state)

	w = doRequest(t, r, http.MethodPost, "/api/hotfolder/batch", `{"dir":"/photos"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"dir":"/photos","submitted":3}`, w.Body.String())
	assert.Equal(t, "/photos", hf.batchDir)

	w = doRequest(t, r, http.MethodPost, "/api/hotfolder/batch", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	hf.batchErr = errors.New("open /missing: no such file or directory")
	w = doRequest(t, r, http.MethodPost, "/api/hotfolder/batch", `{"dir":"/missing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "no such file")
}

type fakeEventSource struct {
	mu sync.Mutex
	ch chan *events.JobEvent
}

func (f *fakeEventSource) Subscribe(buffer int) (<-chan *events.JobEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = make(chan *events.JobEvent, buffer)
	return f.ch, func() {}
}

func (f *fakeEventSource) channel() chan *events.JobEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

func TestEventsHandler_Stream(t *testing.T) {
	source := &fakeEventSource{}
	h := NewEventsHandler(source, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return source.channel() != nil }, time.Second, 5*time.Millisecond)
	job := &domain.Job{ID: uuid.New(), Status: domain.JobStatusCompleted, Progress: 100}
	source.channel() <- events.NewJobEvent(events.TypeCompleted, job)

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.True(t, strings.HasPrefix(lines[0], "id: "))
	assert.Equal(t, "event: "+string(events.TypeCompleted), lines[1])
	require.True(t, strings.HasPrefix(lines[2], "data: "))

	var event events.JobEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &event))
	assert.Equal(t, job.ID, event.JobID)
	assert.Equal(t, domain.JobStatusCompleted, event.Status)
}

func TestMapErrorToStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", domain.ErrValidation), http.StatusBadRequest},
		{provider.ErrInvalidProvider, http.StatusBadRequest},
		{domain.ErrTemplateNotFound, http.StatusNotFound},
		{provider.ErrProviderNotFound, http.StatusNotFound},
		{task.ErrRetryLimit, http.StatusConflict},
		{ingest.ErrAlreadyRunning, http.StatusConflict},
		{task.ErrRunnerStopped, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err), tc.err.Error())
	}
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(errors.New("secret path /etc")))
}
