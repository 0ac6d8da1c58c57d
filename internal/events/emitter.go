package events

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the channel capacity given to subscribers.
const DefaultSubscriberBuffer = 64

// InMemoryEventEmitter dispatches events to registered handlers and to
// channel subscribers. Handlers are called synchronously; subscribers
// that are not keeping up miss events instead of blocking the publisher.
type InMemoryEventEmitter struct {
	handlers    []EventHandler
	subscribers map[int]chan *JobEvent
	nextSubID   int
	mu          sync.RWMutex
	logger      *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		handlers:    make([]EventHandler, 0),
		subscribers: make(map[int]chan *JobEvent),
		logger:      logger.With("component", "in_memory_event_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// Subscribe returns a channel receiving every subsequent event and a
// function that unsubscribes and closes the channel.
func (e *InMemoryEventEmitter) Subscribe(buffer int) (<-chan *JobEvent, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan *JobEvent, buffer)

	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = ch
	e.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, id)
			e.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// EmitEvent publishes the given event to all registered handlers and subscribers.
// If any handler returns an error, the event will still be sent to all other handlers,
// and the first error encountered will be returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *JobEvent) error {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)

	// Sends happen under the read lock so cancel cannot close a channel mid-send.
	for id, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			e.logger.Warn("subscriber not keeping up, dropping event",
				"subscriber_id", id,
				"event_type", event.Type,
				"job_id", event.JobID)
		}
	}
	e.mu.RUnlock()

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
