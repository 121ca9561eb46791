package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter is an EventEmitter that calls its registered handlers
// in registration order on the emitting goroutine.
type InMemoryEventEmitter struct {
	handlers []registeredHandler
	nextID   int
	mu       sync.RWMutex
	logger   *slog.Logger
}

type registeredHandler struct {
	id      int
	handler EventHandler
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	return &InMemoryEventEmitter{
		handlers: make([]registeredHandler, 0),
		logger:   logger.With("component", "in_memory_event_emitter"),
	}
}

// RegisterHandler adds a handler and returns a function that removes it.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) (remove func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, registeredHandler{id: id, handler: handler})
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, h := range e.handlers {
			if h.id == id {
				e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
				return
			}
		}
	}
}

// EmitEvent publishes the given event to all registered handlers.
// A failing handler does not stop delivery to the others; the first error
// encountered is returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *GalleryEvent) error {
	e.mu.RLock()
	handlers := make([]registeredHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	e.logger.Debug("emitting event",
		"event_id", event.ID,
		"event_type", event.Type,
		"gid", event.GID,
		"handler_count", len(handlers))

	var firstErr error
	for i, h := range handlers {
		if err := h.handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type,
				"gid", event.GID)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
