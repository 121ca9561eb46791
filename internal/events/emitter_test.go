package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryEventEmitter(t *testing.T) {
	// Create a minimal logger that discards output
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)
		err := emitter.EmitEvent(context.Background(), NewGalleryEvent(GalleryUpdate, 1))
		assert.NoError(t, err)
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		handler1 := &MockEventHandler{}
		handler2 := &MockEventHandler{}
		emitter.RegisterHandler(handler1)
		emitter.RegisterHandler(handler2)

		event := NewGalleryEvent(GalleryUpdate, 1)
		err := emitter.EmitEvent(context.Background(), event)
		assert.NoError(t, err)

		// Verify both handlers received the event
		assert.Equal(t, 1, handler1.HandledCount)
		assert.Equal(t, 1, handler2.HandledCount)
		assert.Equal(t, event, handler1.LastEvent)
		assert.Equal(t, event, handler2.LastEvent)
	})

	t.Run("emit event with failing handler", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		successHandler := &MockEventHandler{}
		failingHandler := &MockEventHandler{
			HandlerError: errors.New("handler error"),
		}
		emitter.RegisterHandler(failingHandler)
		emitter.RegisterHandler(successHandler)

		err := emitter.EmitEvent(context.Background(), NewGalleryEvent(GalleryRemove, 2))
		assert.EqualError(t, err, "handler error")

		// Both handlers should still have received the event
		assert.Equal(t, 1, successHandler.HandledCount)
		assert.Equal(t, 1, failingHandler.HandledCount)
	})

	t.Run("removed handlers stop receiving events", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(logger)

		kept := &MockEventHandler{}
		removed := &MockEventHandler{}
		emitter.RegisterHandler(kept)
		remove := emitter.RegisterHandler(removed)

		remove()
		remove()

		assert.NoError(t, emitter.EmitEvent(context.Background(), NewGalleryEvent(GalleryUpdate, 3)))
		assert.Equal(t, 1, kept.HandledCount)
		assert.Equal(t, 0, removed.HandledCount)
	})
}
