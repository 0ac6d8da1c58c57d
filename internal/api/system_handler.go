package api

import (
	"log/slog"
	"net/http"

	"github.com/lin-1259/ai-xiutu/internal/api/shared"
	"github.com/lin-1259/ai-xiutu/internal/cache"
	"github.com/lin-1259/ai-xiutu/internal/domain"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
)

// SystemHandler serves health, template and cache endpoints.
type SystemHandler struct {
	templates TemplateLister
	cache     CacheService
	logger    *slog.Logger
}

// NewSystemHandler creates a new SystemHandler. cache may be nil when the
// result cache is disabled.
func NewSystemHandler(templates TemplateLister, cache CacheService, logger *slog.Logger) *SystemHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for SystemHandler")
	}
	return &SystemHandler{
		templates: templates,
		cache:     cache,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

// Health handles GET /health requests
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// ListTemplates handles GET /api/templates requests
func (h *SystemHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list := h.templates.List()
	if list == nil {
		list = []domain.Template{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, list)
}

// CacheStats handles GET /api/cache/stats requests
func (h *SystemHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		shared.RespondWithJSON(w, r, http.StatusOK, cacheStatsResponse{})
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, cacheStatsResponse{Enabled: true, Stats: h.cache.Stats()})
}

// ClearCache handles DELETE /api/cache requests
func (h *SystemHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		if err := h.cache.Clear(); err != nil {
			HandleAPIError(w, r, err, "Failed to clear cache")
			return
		}
		logger.FromContextOrDefault(r.Context(), h.logger).Info("result cache cleared")
	}
	w.WriteHeader(http.StatusNoContent)
}

type cacheStatsResponse struct {
	Enabled bool `json:"enabled"`
	cache.Stats
}
