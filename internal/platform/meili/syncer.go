package meili

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/events"
	"github.com/phrazzld/eharchive/internal/store"
)

// queueSize bounds the events waiting for the background worker.
const queueSize = 256

// Syncer mirrors the gallery catalog into an Index.
type Syncer struct {
	index  Index
	db     store.GalleryStore
	logger *slog.Logger
	queue  chan *events.GalleryEvent

	mu     sync.Mutex
	inited bool
}

var _ events.EventHandler = (*Syncer)(nil)

// NewSyncer creates a syncer reading galleries from db.
func NewSyncer(index Index, db store.GalleryStore, logger *slog.Logger) *Syncer {
	return &Syncer{
		index:  index,
		db:     db,
		logger: logger.With("component", "meili_syncer"),
		queue:  make(chan *events.GalleryEvent, queueSize),
	}
}

// ensure prepares the index once. A failed attempt is retried on the next call.
func (s *Syncer) ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}
	if err := s.index.Ensure(ctx); err != nil {
		return err
	}
	s.inited = true
	return nil
}

// UpdateGallery indexes the given galleries with their current tags.
func (s *Syncer) UpdateGallery(ctx context.Context, gids ...int64) error {
	if len(gids) == 0 {
		return nil
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}
	docs := make([]Document, 0, len(gids))
	for _, gid := range gids {
		g, err := s.db.GetGMeta(ctx, gid)
		if err != nil {
			return fmt.Errorf("load gallery %d: %w", gid, err)
		}
		tags, err := s.db.GetGTags(ctx, gid)
		if err != nil {
			return fmt.Errorf("load tags of gallery %d: %w", gid, err)
		}
		docs = append(docs, NewDocument(*g, tags))
	}
	return s.index.UpdateDocuments(ctx, docs)
}

// RemoveGallery drops gid from the index.
func (s *Syncer) RemoveGallery(ctx context.Context, gid int64) error {
	if err := s.ensure(ctx); err != nil {
		return err
	}
	return s.index.DeleteDocument(ctx, gid)
}

// HandleEvent queues the event for Run. It blocks only while the queue is
// full.
func (s *Syncer) HandleEvent(ctx context.Context, event *events.GalleryEvent) error {
	select {
	case s.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued events until ctx is done. Failures are logged; the
// next event for the same gallery repairs the index.
func (s *Syncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.queue:
			if err := s.apply(ctx, e); err != nil {
				s.logger.Error("failed to sync gallery",
					"error", err,
					"event_id", e.ID,
					"event_type", e.Type,
					"gid", e.GID)
			}
		}
	}
}

func (s *Syncer) apply(ctx context.Context, e *events.GalleryEvent) error {
	switch e.Type {
	case events.GalleryUpdate:
		err := s.UpdateGallery(ctx, e.GID)
		if errors.Is(err, store.ErrGalleryNotFound) {
			// Removed again before the update was applied.
			return s.RemoveGallery(ctx, e.GID)
		}
		return err
	case events.GalleryRemove:
		return s.RemoveGallery(ctx, e.GID)
	default:
		return fmt.Errorf("%w: unknown gallery event %q", domain.ErrInvalidFormat, e.Type)
	}
}
