package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/lin-1259/ai-xiutu/internal/api/shared"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
)

// ProviderHandler manages the provider registry.
type ProviderHandler struct {
	providers ProviderRegistry
	validator *validator.Validate
	logger    *slog.Logger
}

// NewProviderHandler creates a new ProviderHandler
func NewProviderHandler(providers ProviderRegistry, logger *slog.Logger) *ProviderHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ProviderHandler")
	}
	return &ProviderHandler{
		providers: providers,
		validator: validator.New(),
		logger:    logger.With(slog.String("component", "provider_handler")),
	}
}

// ListProviders handles GET /api/providers requests
func (h *ProviderHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.snapshot())
}

// AddProvider handles POST /api/providers requests
func (h *ProviderHandler) AddProvider(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.ID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid id: required field")
		return
	}
	if err := h.providers.AddCustomProvider(req.toConfig()); err != nil {
		HandleAPIError(w, r, err, "Failed to add provider")
		return
	}
	logger.FromContextOrDefault(r.Context(), h.logger).Info("custom provider added",
		slog.String("provider_id", req.ID))
	shared.RespondWithJSON(w, r, http.StatusCreated, h.snapshot())
}

// UpdateProvider handles PUT /api/providers/{id} requests. A masked or empty
// api key keeps the stored one.
func (h *ProviderHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	cfg := req.toConfig()
	cfg.ID = id
	if err := h.providers.UpdateProviderConfig(id, cfg); err != nil {
		HandleAPIError(w, r, err, "Failed to update provider")
		return
	}
	logger.FromContextOrDefault(r.Context(), h.logger).Info("provider updated",
		slog.String("provider_id", id))
	shared.RespondWithJSON(w, r, http.StatusOK, h.snapshot())
}

// DeleteProvider handles DELETE /api/providers/{id} requests
func (h *ProviderHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.providers.RemoveCustomProvider(id); err != nil {
		HandleAPIError(w, r, err, "Failed to remove provider")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetCurrentProvider handles PUT /api/providers/current requests
func (h *ProviderHandler) SetCurrentProvider(w http.ResponseWriter, r *http.Request) {
	var req CurrentProviderRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	if err := h.providers.SetCurrent(req.ID); err != nil {
		HandleAPIError(w, r, err, "Failed to switch provider")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, h.snapshot())
}

func (h *ProviderHandler) decode(w http.ResponseWriter, r *http.Request) (ProviderRequest, bool) {
	var req ProviderRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return req, false
	}
	return req, true
}

func (h *ProviderHandler) snapshot() ProvidersResponse {
	return ProvidersResponse{
		Current:   h.providers.Current(),
		Providers: h.providers.List(),
	}
}
