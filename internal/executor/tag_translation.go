package executor

import (
	"context"
	"fmt"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/platform/ehentai"
	"github.com/phrazzld/eharchive/internal/task"
)

// tagBatchSize is how many tags are written per transaction.
const tagBatchSize = 500

// UpdateTagTranslation loads the EhTagTranslation database and stores the
// translation and introduction of every tag.
type UpdateTagTranslation struct {
	deps Deps
}

func (e *UpdateTagTranslation) Execute(ctx context.Context, t domain.Task, h task.Host) error {
	log := e.deps.taskLogger(t)
	cfg, err := task.DecodeDetails(t, task.UpdateTagTranslationConfig{})
	if err != nil {
		return err
	}

	var db *ehentai.TranslationDB
	if cfg.File != "" {
		db, err = ehentai.LoadTranslationFile(cfg.File)
		if err != nil {
			return err
		}
	} else {
		db, err = e.deps.Remote.FetchTranslationDB(ctx, e.deps.Defaults.TagTranslationURL)
		if err != nil {
			return task.Recoverable(fmt.Errorf("fetch tag translations: %w", err))
		}
	}

	tags := db.Tags()
	log.Info("updating tag translations", "tags", len(tags), "version", db.Version)
	progress := newReporter(h, t, task.UpdateTagTranslationProgress{TotalTag: len(tags)})
	progress.Flush()
	defer progress.Flush()

	for start := 0; start < len(tags); start += tagBatchSize {
		if h.AbortContext().Err() != nil {
			return ErrAborted
		}
		batch := tags[start:min(start+tagBatchSize, len(tags))]
		if err := e.deps.Store.UpdateTags(ctx, batch); err != nil {
			return transient(fmt.Errorf("store tag translations: %w", err))
		}
		progress.Update(func(p *task.UpdateTagTranslationProgress) { p.AddedTag += len(batch) })
	}
	return nil
}
