package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// GalleryEventType says what happened to a gallery.
type GalleryEventType string

const (
	// GalleryUpdate is emitted after a gallery's metadata or tags were stored.
	GalleryUpdate GalleryEventType = "gallery_update"

	// GalleryRemove is emitted after a gallery was deleted from the catalog.
	GalleryRemove GalleryEventType = "gallery_remove"
)

// GalleryEvent reports a change to one gallery of the catalog.
type GalleryEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	Type GalleryEventType `json:"type"`
	GID  int64            `json:"gid"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewGalleryEvent creates a GalleryEvent for gid.
func NewGalleryEvent(eventType GalleryEventType, gid int64) *GalleryEvent {
	return &GalleryEvent{
		ID:        uuid.New(),
		Type:      eventType,
		GID:       gid,
		CreatedAt: time.Now(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *GalleryEvent) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, event *GalleryEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event *GalleryEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows executors to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *GalleryEvent) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) EmitEvent(context.Context, *GalleryEvent) error { return nil }
