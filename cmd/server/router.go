package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lin-1259/ai-xiutu/internal/api"
	apiMiddleware "github.com/lin-1259/ai-xiutu/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))
	r.Use(middleware.Recoverer)

	// Avoid a typed nil interface when the cache is disabled
	var cacheService api.CacheService
	if app.cache != nil {
		cacheService = app.cache
	}

	jobHandler := api.NewJobHandler(app.taskRunner, app.logger)
	imageHandler := api.NewImageHandler(app.images, app.logger)
	providerHandler := api.NewProviderHandler(app.dispatcher, app.logger)
	systemHandler := api.NewSystemHandler(app.templates, cacheService, app.logger)
	hotFolderHandler := api.NewHotFolderHandler(app.watcher, app.logger)
	eventsHandler := api.NewEventsHandler(app.eventEmitter, app.logger)

	r.Get("/health", systemHandler.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/images", imageHandler.UploadImage)

		// Job endpoints
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobHandler.SubmitJob)
			r.Get("/", jobHandler.ListJobs)
			r.Get("/stats", jobHandler.Stats)
			r.Post("/clear", jobHandler.ClearJobs)
			r.Get("/{id}", jobHandler.GetJob)
			r.Delete("/{id}", jobHandler.DeleteJob)
			r.Post("/{id}/pause", jobHandler.PauseJob)
			r.Post("/{id}/resume", jobHandler.ResumeJob)
			r.Post("/{id}/cancel", jobHandler.CancelJob)
			r.Post("/{id}/retry", jobHandler.RetryJob)
		})
		r.Put("/settings/concurrency", jobHandler.SetConcurrency)
		r.Get("/events", eventsHandler.Stream)

		r.Get("/templates", systemHandler.ListTemplates)

		// Provider endpoints
		r.Get("/providers", providerHandler.ListProviders)
		r.Post("/providers", providerHandler.AddProvider)
		r.Put("/providers/current", providerHandler.SetCurrentProvider)
		r.Put("/providers/{id}", providerHandler.UpdateProvider)
		r.Delete("/providers/{id}", providerHandler.DeleteProvider)

		r.Get("/cache/stats", systemHandler.CacheStats)
		r.Delete("/cache", systemHandler.ClearCache)

		// Hot folder endpoints
		r.Get("/hotfolder", hotFolderHandler.Status)
		r.Post("/hotfolder/start", hotFolderHandler.Start)
		r.Post("/hotfolder/stop", hotFolderHandler.Stop)
		r.Post("/hotfolder/batch", hotFolderHandler.Batch)
	})

	return r
}
