package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/phrazzld/eharchive/internal/task"
)

const (
	// fixBatchSize is how many gids are checked per catalog page.
	fixBatchSize = 100

	// searchBatchSize is how many galleries are sent to the search index at once.
	searchBatchSize = 20
)

// ErrSearchNotConfigured is returned by search index tasks when no index is
// configured.
var ErrSearchNotConfigured = errors.New("search index is not configured")

// FixGalleryPage queues a download for every gallery whose stored page
// count differs from its file count.
type FixGalleryPage struct {
	deps Deps
}

func (e *FixGalleryPage) Execute(ctx context.Context, t domain.Task, h task.Host) error {
	log := e.deps.taskLogger(t)
	total, err := e.deps.Store.CountGMeta(ctx)
	if err != nil {
		return transient(err)
	}
	progress := newReporter(h, t, task.FixGalleryPageProgress{TotalGallery: total})
	progress.Flush()
	defer progress.Flush()

	queued := 0
	for offset := 0; ; {
		gids, err := e.deps.Store.GetGIDs(ctx, offset, fixBatchSize)
		if err != nil {
			return transient(err)
		}
		if len(gids) == 0 {
			break
		}
		for _, gid := range gids {
			if h.AbortContext().Err() != nil {
				return ErrAborted
			}
			fixed, err := e.check(ctx, h, gid)
			if err != nil {
				return err
			}
			if fixed {
				queued++
			}
			progress.Update(func(p *task.FixGalleryPageProgress) { p.CheckedGallery++ })
		}
		offset += len(gids)
	}
	log.Info("gallery pages checked", "galleries", total, "queued", queued)
	return nil
}

func (e *FixGalleryPage) check(ctx context.Context, h task.Host, gid int64) (bool, error) {
	g, err := e.deps.Store.GetGMeta(ctx, gid)
	if errors.Is(err, store.ErrGalleryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, transient(err)
	}
	count, err := e.deps.Store.CountPMeta(ctx, gid)
	if err != nil {
		return false, transient(err)
	}
	if count == g.Filecount {
		return false, nil
	}
	if _, err := h.AddDownloadTask(ctx, gid, g.Token, nil); err != nil {
		return false, transient(fmt.Errorf("queue download of gallery %d: %w", gid, err))
	}
	return true, nil
}

// UpdateMeiliSearchData refreshes the search documents of one gallery, or
// of every gallery when the task gid is 0.
type UpdateMeiliSearchData struct {
	deps Deps
}

func (e *UpdateMeiliSearchData) Execute(ctx context.Context, t domain.Task, h task.Host) error {
	if e.deps.Search == nil {
		return ErrSearchNotConfigured
	}
	log := e.deps.taskLogger(t)

	if t.GID != 0 {
		if err := e.deps.Search.UpdateGallery(ctx, t.GID); err != nil {
			return task.Recoverable(fmt.Errorf("update search data of gallery %d: %w", t.GID, err))
		}
		return nil
	}

	total, err := e.deps.Store.CountGMeta(ctx)
	if err != nil {
		return transient(err)
	}
	progress := newReporter(h, t, task.UpdateMeiliSearchDataProgress{TotalGallery: total})
	progress.Flush()
	defer progress.Flush()

	for offset := 0; ; {
		if h.AbortContext().Err() != nil {
			return ErrAborted
		}
		gids, err := e.deps.Store.GetGIDs(ctx, offset, searchBatchSize)
		if err != nil {
			return transient(err)
		}
		if len(gids) == 0 {
			break
		}
		if err := e.deps.Search.UpdateGallery(ctx, gids...); err != nil {
			return task.Recoverable(fmt.Errorf("update search data: %w", err))
		}
		offset += len(gids)
		progress.Update(func(p *task.UpdateMeiliSearchDataProgress) { p.UpdatedGallery += len(gids) })
	}
	log.Info("search data updated", "galleries", total)
	return nil
}
