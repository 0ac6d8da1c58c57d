package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lin-1259/ai-xiutu/internal/api/shared"
	"github.com/lin-1259/ai-xiutu/internal/events"
	"github.com/lin-1259/ai-xiutu/internal/platform/logger"
)

// DefaultKeepAlive is the interval between SSE comment frames.
const DefaultKeepAlive = 15 * time.Second

// EventsHandler streams job events to clients as server-sent events.
type EventsHandler struct {
	source    EventSource
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(source EventSource, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for EventsHandler")
	}
	return &EventsHandler{
		source:    source,
		keepAlive: DefaultKeepAlive,
		logger:    logger.With(slog.String("component", "events_handler")),
	}
}

// Stream handles GET /api/events requests. Each event is written as
// "event: <type>" followed by its JSON encoding. The stream ends when the
// client disconnects or the subscription is closed.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	ch, unsubscribe := h.source.Subscribe(events.DefaultSubscriberBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed by client")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				log.Error("failed to encode job event", "error", err, "event_id", event.ID)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
