package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lin-1259/ai-xiutu/internal/cache"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/provider"
	"github.com/lin-1259/ai-xiutu/internal/storage"
	"github.com/lin-1259/ai-xiutu/internal/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type memoryImages map[string][]byte

func (m memoryImages) Read(ctx context.Context, id string) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrImageNotFound, id)
	}
	return data, nil
}

type passthroughTranscoder struct{}

func (passthroughTranscoder) Transcode(ctx context.Context, data []byte, opts transcode.Options) (transcode.Output, error) {
	return transcode.Output{Data: data, MIME: "image/png"}, nil
}

// MockDispatcher is a Dispatcher with a function hook.
type MockDispatcher struct {
	mu         sync.Mutex
	calls      int
	DispatchFn func(n int, req provider.Request) (*provider.Result, error)
}

func (m *MockDispatcher) Dispatch(ctx context.Context, req provider.Request) (*provider.Result, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return m.DispatchFn(n, req)
}

func (m *MockDispatcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type reportLog struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
	progress []int
}

func (l *reportLog) report(progress int, status domain.JobStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, progress)
	l.statuses = append(l.statuses, status)
}

func newTestProcessor(t *testing.T, d Dispatcher, withCache bool, cfg ProcessorConfig) *Processor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := ProcessorDeps{
		Images:     memoryImages{"img-a": []byte("source image a")},
		Transcoder: passthroughTranscoder{},
		Dispatcher: d,
	}
	if withCache {
		c, err := cache.New(cache.Options{
			Dir:        t.TempDir(),
			MaxEntries: 10,
			MaxBytes:   1 << 20,
			Retention:  time.Hour,
		}, logger)
		require.NoError(t, err)
		deps.Cache = c
	}
	p, err := NewProcessor(deps, cfg, logger)
	require.NoError(t, err)
	return p
}

func processorJob(t *testing.T) *domain.Job {
	t.Helper()
	return &domain.Job{
		ID:         uuid.New(),
		ImageID:    "img-a",
		SourceName: "holiday.jpg",
		TemplateID: "enhance",
		Params:     domain.Params{Prompt: "enhance", Strength: 0.5, Resolution: 1024, Quality: domain.QualityStandard},
		OutputDir:  t.TempDir(),
		Status:     domain.JobStatusProcessing,
	}
}

func okDispatch(n int, req provider.Request) (*provider.Result, error) {
	return &provider.Result{Image: pngBytes, ProviderID: "gemini", Cost: 0.039}, nil
}

func TestProcessor_CacheMissThenHit(t *testing.T) {
	d := &MockDispatcher{DispatchFn: okDispatch}
	p := newTestProcessor(t, d, true, DefaultProcessorConfig())
	ctx := context.Background()

	first := processorJob(t)
	log := &reportLog{}
	out, err := p.Execute(ctx, first, log.report)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Calls())
	assert.False(t, out.Result.Cached)
	assert.Equal(t, "gemini", out.Result.ProviderID)
	assert.Equal(t, "image/png", out.Result.MIME)
	assert.Equal(t, int64(len(pngBytes)), out.Result.Size)
	assert.InDelta(t, 0.039, out.Cost, 1e-9)
	assert.Equal(t, storage.ContentHash([]byte("source image a")), out.ImageHash)
	assert.Equal(t, filepath.Join(first.OutputDir, "holiday_enhance.png"), out.Result.OutputPath)
	assert.Equal(t, []int{ProgressStarted, ProgressLoaded, ProgressTranscoded, ProgressDispatched, ProgressStored}, log.progress)

	written, err := os.ReadFile(out.Result.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, written)

	second := processorJob(t)
	out2, err := p.Execute(ctx, second, func(int, domain.JobStatus) {})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Calls(), "cache hit must not dispatch")
	assert.True(t, out2.Result.Cached)
	assert.Equal(t, out.Result.CacheKey, out2.Result.CacheKey)
	assert.Equal(t, "gemini", out2.Result.ProviderID)
	assert.Zero(t, out2.Cost)

	third := processorJob(t)
	third.Params.Strength = 0.9
	_, err = p.Execute(ctx, third, func(int, domain.JobStatus) {})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Calls(), "different params are a different key")
}

func TestProcessor_RequestCarriesParams(t *testing.T) {
	var got provider.Request
	d := &MockDispatcher{DispatchFn: func(n int, req provider.Request) (*provider.Result, error) {
		got = req
		return okDispatch(n, req)
	}}
	p := newTestProcessor(t, d, false, DefaultProcessorConfig())

	job := processorJob(t)
	job.Params.NegativePrompt = "blurry"
	_, err := p.Execute(context.Background(), job, func(int, domain.JobStatus) {})
	require.NoError(t, err)
	assert.Equal(t, "enhance", got.Prompt)
	assert.Equal(t, "blurry", got.NegativePrompt)
	assert.Equal(t, 0.5, got.Strength)
	assert.Equal(t, 1024, got.Resolution)
	assert.Equal(t, "image/png", got.MIME)
	assert.NotEmpty(t, got.ImageBase64)
}

func TestProcessor_RateLimitWait(t *testing.T) {
	cfg := ProcessorConfig{RateLimitWait: time.Millisecond, RateLimitRetries: 3}

	t.Run("waits then succeeds", func(t *testing.T) {
		d := &MockDispatcher{DispatchFn: func(n int, req provider.Request) (*provider.Result, error) {
			if n <= 2 {
				return nil, fmt.Errorf("dispatch: %w", provider.ErrRateLimited)
			}
			return okDispatch(n, req)
		}}
		p := newTestProcessor(t, d, false, cfg)
		log := &reportLog{}

		_, err := p.Execute(context.Background(), processorJob(t), log.report)
		require.NoError(t, err)
		assert.Equal(t, 3, d.Calls())
		assert.Contains(t, log.statuses, domain.JobStatusRetrying)
		assert.Equal(t, domain.JobStatusProcessing, log.statuses[len(log.statuses)-1])
	})

	t.Run("gives up after the configured retries", func(t *testing.T) {
		d := &MockDispatcher{DispatchFn: func(n int, req provider.Request) (*provider.Result, error) {
			return nil, provider.ErrRateLimited
		}}
		p := newTestProcessor(t, d, false, cfg)

		_, err := p.Execute(context.Background(), processorJob(t), func(int, domain.JobStatus) {})
		assert.ErrorIs(t, err, provider.ErrRateLimited)
		assert.Equal(t, 4, d.Calls())
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		d := &MockDispatcher{DispatchFn: func(n int, req provider.Request) (*provider.Result, error) {
			return nil, provider.ErrRateLimited
		}}
		p := newTestProcessor(t, d, false, ProcessorConfig{RateLimitWait: time.Hour, RateLimitRetries: 3})
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			_, err := p.Execute(ctx, processorJob(t), func(progress int, status domain.JobStatus) {
				if status == domain.JobStatusRetrying {
					cancel()
				}
			})
			errCh <- err
		}()
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("processor did not return after cancellation")
		}
	})
}

func TestProcessor_Errors(t *testing.T) {
	semantic := errors.New("content blocked")
	d := &MockDispatcher{DispatchFn: func(n int, req provider.Request) (*provider.Result, error) {
		return nil, fmt.Errorf("%w: %w", provider.ErrProviderSemantic, semantic)
	}}
	p := newTestProcessor(t, d, true, DefaultProcessorConfig())

	job := processorJob(t)
	_, err := p.Execute(context.Background(), job, func(int, domain.JobStatus) {})
	assert.ErrorIs(t, err, provider.ErrProviderSemantic)
	assert.Equal(t, 1, d.Calls())

	entries, err := os.ReadDir(job.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed job writes no output")

	missing := processorJob(t)
	missing.ImageID = "img-missing"
	_, err = p.Execute(context.Background(), missing, func(int, domain.JobStatus) {})
	assert.ErrorIs(t, err, domain.ErrImageNotFound)
}

func TestProcessor_RemovesStalePartFile(t *testing.T) {
	d := &MockDispatcher{DispatchFn: okDispatch}
	p := newTestProcessor(t, d, false, DefaultProcessorConfig())

	job := processorJob(t)
	stale := filepath.Join(job.OutputDir, "holiday_enhance.png.part")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))
	old := time.Now().Add(-2 * storage.StalePartAge)
	require.NoError(t, os.Chtimes(stale, old, old))

	_, err := p.Execute(context.Background(), job, func(int, domain.JobStatus) {})
	require.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessor_SameSourceNamesKeepBothOutputs(t *testing.T) {
	d := &MockDispatcher{DispatchFn: okDispatch}
	p := newTestProcessor(t, d, false, DefaultProcessorConfig())

	first := processorJob(t)
	second := processorJob(t)
	second.OutputDir = first.OutputDir

	a, err := p.Execute(context.Background(), first, func(int, domain.JobStatus) {})
	require.NoError(t, err)
	b, err := p.Execute(context.Background(), second, func(int, domain.JobStatus) {})
	require.NoError(t, err)

	assert.NotEqual(t, a.Result.OutputPath, b.Result.OutputPath)
	assert.FileExists(t, a.Result.OutputPath)
	assert.FileExists(t, b.Result.OutputPath)
}

func TestNewProcessor_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := &MockDispatcher{DispatchFn: okDispatch}

	_, err := NewProcessor(ProcessorDeps{Transcoder: passthroughTranscoder{}, Dispatcher: d}, DefaultProcessorConfig(), logger)
	assert.Error(t, err)
	_, err = NewProcessor(ProcessorDeps{Images: memoryImages{}, Dispatcher: d}, DefaultProcessorConfig(), logger)
	assert.Error(t, err)
	_, err = NewProcessor(ProcessorDeps{Images: memoryImages{}, Transcoder: passthroughTranscoder{}}, DefaultProcessorConfig(), logger)
	assert.Error(t, err)
	_, err = NewProcessor(ProcessorDeps{Images: memoryImages{}, Transcoder: passthroughTranscoder{}, Dispatcher: d}, DefaultProcessorConfig(), nil)
	assert.Error(t, err)
}
