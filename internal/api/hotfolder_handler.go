package api

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/lin-1259/ai-xiutu/internal/api/shared"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
)

// HotFolderHandler controls the ingestion watcher.
type HotFolderHandler struct {
	watcher   HotFolder
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHotFolderHandler creates a new HotFolderHandler
func NewHotFolderHandler(watcher HotFolder, logger *slog.Logger) *HotFolderHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for HotFolderHandler")
	}
	return &HotFolderHandler{
		watcher:   watcher,
		validator: validator.New(),
		logger:    logger.With(slog.String("component", "hotfolder_handler")),
	}
}

// Status handles GET /api/hotfolder requests
func (h *HotFolderHandler) Status(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.watcher.Status())
}

// Start handles POST /api/hotfolder/start requests
func (h *HotFolderHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.watcher.Start(); err != nil {
		HandleAPIError(w, r, err, "Failed to start hot folder")
		return
	}
	logger.FromContextOrDefault(r.Context(), h.logger).Info("hot folder started")
	shared.RespondWithJSON(w, r, http.StatusOK, h.watcher.Status())
}

// Stop handles POST /api/hotfolder/stop requests
func (h *HotFolderHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.watcher.Stop()
	logger.FromContextOrDefault(r.Context(), h.logger).Info("hot folder stopped")
	shared.RespondWithJSON(w, r, http.StatusOK, h.watcher.Status())
}

// Batch handles POST /api/hotfolder/batch requests
func (h *HotFolderHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}
	n, err := h.watcher.ProcessDirectory(r.Context(), req.Dir)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Unable to read batch directory", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, BatchResponse{Dir: req.Dir, Submitted: n})
}
