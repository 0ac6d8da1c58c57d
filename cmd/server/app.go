package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lin-1259/ai-xiutu/internal/cache"
	"github.com/lin-1259/ai-xiutu/internal/config"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/events"
	"github.com/lin-1259/ai-xiutu/internal/ingest"
	"github.com/lin-1259/ai-xiutu/internal/platform/sqlstore"
	"github.com/lin-1259/ai-xiutu/internal/provider"
	"github.com/lin-1259/ai-xiutu/internal/storage"
	"github.com/lin-1259/ai-xiutu/internal/store"
	"github.com/lin-1259/ai-xiutu/internal/task"
	"github.com/lin-1259/ai-xiutu/internal/templates"
	"github.com/lin-1259/ai-xiutu/internal/transcode"
	"go.uber.org/multierr"
)

// driverMemory selects the non-durable in-memory job store.
const driverMemory = "memory"

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sqlx.DB

	// Stores
	jobStore store.JobStore
	images   *storage.ImageStore

	// Processing services
	templates  *templates.Registry
	dispatcher *provider.Dispatcher
	cache      *cache.Cache // nil when the result cache is disabled

	// Event system
	eventEmitter *events.InMemoryEventEmitter

	// Job handling
	taskRunner *task.TaskRunner
	watcher    *ingest.Watcher
}

// newApplication creates a new application instance with all dependencies
// initialized. Nothing is started until Run or RunBatch.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, app.closeDB())
		}
	}()

	if err := app.setupJobStore(ctx); err != nil {
		return nil, err
	}

	app.images, err = storage.NewImageStore(cfg.ImagesDir())
	if err != nil {
		return nil, fmt.Errorf("failed to create image store: %w", err)
	}

	app.templates, err = templates.NewRegistry(templatesFromConfig(cfg.Templates)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	logger.Info("template registry initialized", "templates", len(app.templates.List()))

	app.dispatcher, err = provider.NewDispatcher(
		provider.ConfigsFromSettings(cfg.Providers),
		cfg.Providers.Current,
		provider.Options{RequestTimeout: cfg.Providers.RequestTimeout},
		logger.With("component", "dispatcher"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider dispatcher: %w", err)
	}
	logger.Info("provider dispatcher initialized", "current", app.dispatcher.Current())

	deps := task.ProcessorDeps{
		Images:     app.images,
		Transcoder: transcode.New(),
		Dispatcher: app.dispatcher,
	}
	if cfg.Cache.Enabled {
		app.cache, err = cache.New(cache.Options{
			Dir:        cfg.Cache.Dir,
			MaxEntries: cfg.Cache.MaxEntries,
			MaxBytes:   cfg.CacheMaxBytes(),
			Retention:  cfg.Cache.Retention,
		}, logger.With("component", "cache"))
		if err != nil {
			return nil, fmt.Errorf("failed to open result cache: %w", err)
		}
		deps.Cache = app.cache
	}

	processor, err := task.NewProcessor(deps, task.ProcessorConfig{
		RateLimitWait:    cfg.Processing.RateLimitWait,
		RateLimitRetries: cfg.Processing.RateLimitRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)

	app.taskRunner, err = task.NewTaskRunner(task.Deps{
		Store:     app.jobStore,
		Executor:  processor,
		Templates: app.templates,
		Images:    app.images,
		Emitter:   app.eventEmitter,
	}, task.TaskRunnerConfig{
		MaxConcurrency:    cfg.Processing.MaxConcurrentTasks,
		DefaultPriority:   cfg.Processing.DefaultPriority,
		DefaultMaxRetries: cfg.Processing.DefaultMaxRetries,
		OutputDir:         cfg.Processing.OutputPath,
		MessageBuffer:     task.DefaultTaskRunnerConfig().MessageBuffer,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create task runner: %w", err)
	}

	app.watcher, err = ingest.NewWatcher(ingest.Config{
		InputDir:     cfg.HotFolder.InputPath,
		OutputDir:    cfg.HotFolder.OutputPath,
		TemplateID:   cfg.HotFolder.TemplateID,
		Patterns:     cfg.HotFolder.FilePatterns,
		MinFileSize:  cfg.HotFolder.MinFileSize,
		SettleDelay:  cfg.HotFolder.SettleDelay,
		RestartDelay: cfg.HotFolder.RestartDelay,
	}, app.taskRunner, app.images, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create hot folder watcher: %w", err)
	}
	app.eventEmitter.RegisterHandler(app.watcher)

	logger.Info("application initialized successfully")
	return app, nil
}

// setupJobStore opens and migrates the configured job database.
func (app *application) setupJobStore(ctx context.Context) error {
	driver := app.config.Database.Driver
	if driver == driverMemory {
		app.logger.Warn("using in-memory job store, jobs will not survive a restart")
		app.jobStore = store.NewMemoryJobStore()
		return nil
	}

	db, err := sqlstore.Open(ctx, driver, app.config.Database.DSN, app.logger)
	if err != nil {
		return err
	}
	app.db = db
	if err := sqlstore.Migrate(ctx, db, "up", app.logger); err != nil {
		return err
	}
	app.jobStore = sqlstore.NewJobStore(db)
	return nil
}

// Run starts the scheduler and background services, then serves the control
// API until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	if err := app.start(ctx); err != nil {
		return err
	}
	defer app.cleanup()

	if app.config.HotFolder.Enabled && app.config.HotFolder.AutoStart {
		if err := app.watcher.Start(); err != nil {
			app.logger.Error("failed to start hot folder", "error", err)
		}
	}

	if !app.config.Server.Enabled {
		app.logger.Info("control API disabled, waiting for shutdown signal")
		<-ctx.Done()
		return nil
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// RunBatch submits every matching image in dir using the hot folder template
// and returns once no job is waiting or running.
func (app *application) RunBatch(ctx context.Context, dir string) error {
	if app.config.HotFolder.TemplateID == "" {
		return errors.New("batch mode requires hotFolder.templateId")
	}
	if err := app.start(ctx); err != nil {
		return err
	}
	defer app.cleanup()

	updates, unsubscribe := app.eventEmitter.Subscribe(events.DefaultSubscriberBuffer)
	defer unsubscribe()

	n, err := app.watcher.ProcessDirectory(ctx, dir)
	if err != nil {
		return err
	}
	app.logger.Info("batch submitted", "dir", dir, "jobs", n)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		stats, err := app.taskRunner.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.Running == 0 && stats.Ready == 0 {
			app.logger.Info("batch finished",
				"completed", stats.Counts[domain.JobStatusCompleted],
				"failed", stats.Counts[domain.JobStatusFailed],
				"total_cost", stats.TotalCost)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-updates:
		case <-ticker.C:
		}
	}
}

// start launches the task runner and cache sweeper.
func (app *application) start(ctx context.Context) error {
	if err := app.taskRunner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	if app.cache != nil {
		app.cache.StartSweeper(ctx, app.config.Cache.SweepInterval)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.watcher != nil {
		app.watcher.Stop()
	}
	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}
	if err := app.closeDB(); err != nil {
		app.logger.Error("error closing database connection", "error", err)
	}
	app.logger.Info("application shutdown completed")
}

func (app *application) closeDB() error {
	if app.db == nil {
		return nil
	}
	err := app.db.Close()
	app.db = nil
	return err
}

// templatesFromConfig converts configured templates into domain templates.
// Zero values fall back to template defaults in the registry.
func templatesFromConfig(list []config.TemplateConfig) []domain.Template {
	out := make([]domain.Template, 0, len(list))
	for _, tc := range list {
		out = append(out, domain.Template{
			ID:   tc.ID,
			Name: tc.Name,
			Params: domain.Params{
				Prompt:         tc.Prompt,
				NegativePrompt: tc.NegativePrompt,
				Strength:       tc.Strength,
				GuidanceScale:  tc.GuidanceScale,
				Steps:          tc.Steps,
				Resolution:     tc.Resolution,
				Quality:        tc.Quality,
			},
		})
	}
	return out
}
