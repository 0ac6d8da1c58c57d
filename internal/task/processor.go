package task

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/cache"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
	"github.com/lin-1259/ai-xiutu/internal/provider"
	"github.com/lin-1259/ai-xiutu/internal/storage"
	"github.com/lin-1259/ai-xiutu/internal/transcode"
)

// Dispatcher sends a transform request to a provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, req provider.Request) (*provider.Result, error)
}

// ResultCache stores transform outputs by cache key.
type ResultCache interface {
	Get(ctx context.Context, key string) (cache.Result, cache.Entry, error)
	Put(ctx context.Context, key string, r cache.Result) error
}

// ImageReader reads staged source images.
type ImageReader interface {
	Read(ctx context.Context, id string) ([]byte, error)
}

// Transcoder fits a source image to the job's resolution and quality.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte, opts transcode.Options) (transcode.Output, error)
}

// ProcessorDeps are the collaborators of a Processor. Cache may be nil.
type ProcessorDeps struct {
	Images     ImageReader
	Transcoder Transcoder
	Dispatcher Dispatcher
	Cache      ResultCache
}

// ProcessorConfig controls how a Processor waits out provider rate limits.
type ProcessorConfig struct {
	// RateLimitWait is multiplied by the attempt number between rate-limited dispatches
	RateLimitWait time.Duration

	// RateLimitRetries is the number of additional dispatches after a rate-limit rejection
	RateLimitRetries int
}

// DefaultProcessorConfig returns a ProcessorConfig with reasonable defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		RateLimitWait:    500 * time.Millisecond,
		RateLimitRetries: 20,
	}
}

// Processor is the Executor that runs the image pipeline for one job:
// load, cache lookup, transcode, dispatch, cache store and output write.
type Processor struct {
	images     ImageReader
	transcoder Transcoder
	dispatcher Dispatcher
	cache      ResultCache
	config     ProcessorConfig
	logger     *slog.Logger
	now        clock
}

// NewProcessor creates a new Processor
func NewProcessor(deps ProcessorDeps, cfg ProcessorConfig, logger *slog.Logger) (*Processor, error) {
	if deps.Images == nil {
		return nil, errors.New("image reader cannot be nil")
	}
	if deps.Transcoder == nil {
		return nil, errors.New("transcoder cannot be nil")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Processor{
		images:     deps.Images,
		transcoder: deps.Transcoder,
		dispatcher: deps.Dispatcher,
		cache:      deps.Cache,
		config:     cfg,
		logger:     logger.With("component", "processor"),
		now:        time.Now,
	}, nil
}

// Execute implements Executor.
func (p *Processor) Execute(ctx context.Context, job *domain.Job, report ReportFunc) (Outcome, error) {
	start := p.now()
	log := logger.FromContextOrDefault(ctx, p.logger)
	report(ProgressStarted, domain.JobStatusProcessing)

	data, err := p.images.Read(ctx, job.ImageID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read source image: %w", err)
	}
	hash := storage.ContentHash(data)
	key := cache.Key(hash, job.TemplateID, job.Params)
	report(ProgressLoaded, domain.JobStatusProcessing)

	if p.cache != nil {
		hit, _, err := p.cache.Get(ctx, key)
		switch {
		case err == nil:
			log.Debug("cache hit", "cache_key", key)
			return p.finish(ctx, job, hit.Data, hit.MIME, outcomeMeta{
				key:        key,
				hash:       hash,
				cached:     true,
				providerID: hit.ProviderID,
				start:      start,
			}, report)
		case !errors.Is(err, cache.ErrMiss):
			log.Warn("cache lookup failed, treating as miss", "cache_key", key, "error", err)
		}
	}

	out, err := p.transcoder.Transcode(ctx, data, transcode.Options{
		Resolution: job.Params.Resolution,
		Quality:    job.Params.Quality,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to transcode source image: %w", err)
	}
	report(ProgressTranscoded, domain.JobStatusProcessing)

	result, err := p.dispatch(ctx, provider.Request{
		ImageBase64:    base64.StdEncoding.EncodeToString(out.Data),
		MIME:           out.MIME,
		Prompt:         job.Params.Prompt,
		NegativePrompt: job.Params.NegativePrompt,
		Strength:       job.Params.Strength,
		GuidanceScale:  job.Params.GuidanceScale,
		Steps:          job.Params.Steps,
		Resolution:     job.Params.Resolution,
		Quality:        job.Params.Quality,
	}, report)
	if err != nil {
		return Outcome{}, err
	}
	report(ProgressDispatched, domain.JobStatusProcessing)

	mime := storage.DetectMIME(result.Image)
	if p.cache != nil {
		entry := cache.Result{Data: result.Image, MIME: mime, ProviderID: result.ProviderID}
		if err := p.cache.Put(ctx, key, entry); err != nil {
			log.Warn("failed to store result in cache", "cache_key", key, "error", err)
		}
	}

	return p.finish(ctx, job, result.Image, mime, outcomeMeta{
		key:        key,
		hash:       hash,
		providerID: result.ProviderID,
		cost:       result.Cost,
		start:      start,
	}, report)
}

type outcomeMeta struct {
	key        string
	hash       string
	cached     bool
	providerID string
	cost       float64
	start      time.Time
}

// finish writes the output file and assembles the outcome.
func (p *Processor) finish(ctx context.Context, job *domain.Job, data []byte, mime string, meta outcomeMeta, report ReportFunc) (Outcome, error) {
	if job.OutputDir == "" {
		return Outcome{}, errors.New("job has no output directory")
	}
	if err := storage.RemoveStaleParts(job.OutputDir, job.SourceName, job.TemplateID, p.now().Add(-storage.StalePartAge)); err != nil {
		logger.FromContextOrDefault(ctx, p.logger).Warn("failed to remove stale partial output",
			"path", job.OutputDir, "error", err)
	}
	path, err := storage.WriteOutput(ctx, job.OutputDir, job.SourceName, job.TemplateID, data)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to write output: %w", err)
	}
	report(ProgressStored, domain.JobStatusProcessing)

	if mime == "" {
		mime = storage.DetectMIME(data)
	}
	return Outcome{
		Result: domain.JobResult{
			OutputPath:       path,
			MIME:             mime,
			Size:             int64(len(data)),
			CacheKey:         meta.key,
			Cached:           meta.cached,
			ProviderID:       meta.providerID,
			ProcessingTimeMs: p.now().Sub(meta.start).Milliseconds(),
		},
		Cost:      meta.cost,
		ImageHash: meta.hash,
	}, nil
}

// dispatch calls the dispatcher, waiting RateLimitWait × n between attempts
// rejected as rate-limited. The job reports Retrying while it waits.
func (p *Processor) dispatch(ctx context.Context, req provider.Request, report ReportFunc) (*provider.Result, error) {
	for n := 1; ; n++ {
		result, err := p.dispatcher.Dispatch(ctx, req)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, provider.ErrRateLimited) || n > p.config.RateLimitRetries {
			return nil, err
		}

		report(ProgressTranscoded, domain.JobStatusRetrying)
		timer := time.NewTimer(p.config.RateLimitWait * time.Duration(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		report(ProgressTranscoded, domain.JobStatusProcessing)
	}
}
