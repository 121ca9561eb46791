package task

import (
	"context"
	"fmt"

	"github.com/phrazzld/eharchive/internal/domain"
)

// AddDownloadTask enqueues a download of gallery gid. When a download of the
// same gallery is already queued, that task is returned instead.
func (m *Manager) AddDownloadTask(ctx context.Context, gid int64, token string, cfg *DownloadConfig) (domain.Task, error) {
	if err := m.checkOpen(); err != nil {
		return domain.Task{}, err
	}
	if err := validateGallery(gid, token); err != nil {
		return domain.Task{}, err
	}
	existing, err := m.store.CheckDownloadTask(ctx, gid, token)
	if err != nil {
		return domain.Task{}, fmt.Errorf("check download task: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}
	details, err := encodeDetails(cfg)
	if err != nil {
		return domain.Task{}, err
	}
	return m.addTask(ctx, domain.Task{Type: domain.TaskTypeDownload, GID: gid, Token: token, Details: details})
}

// AddExportZipTask enqueues an archive export of gallery gid. Exports with
// different configurations are distinct tasks.
func (m *Manager) AddExportZipTask(ctx context.Context, gid int64, cfg *ExportZipConfig) (domain.Task, error) {
	if err := m.checkOpen(); err != nil {
		return domain.Task{}, err
	}
	if gid <= 0 {
		return domain.Task{}, domain.NewValidationError("gid", "must be positive", domain.ErrInvalidGID)
	}
	details, err := encodeDetails(cfg)
	if err != nil {
		return domain.Task{}, err
	}
	existing, err := m.store.CheckExportZipTask(ctx, gid, details)
	if err != nil {
		return domain.Task{}, fmt.Errorf("check export task: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}
	return m.addTask(ctx, domain.Task{Type: domain.TaskTypeExportZip, GID: gid, Details: details})
}

// AddImportTask enqueues an import of local files as gallery gid.
func (m *Manager) AddImportTask(ctx context.Context, gid int64, token string, cfg ImportConfig) (domain.Task, error) {
	if err := m.checkOpen(); err != nil {
		return domain.Task{}, err
	}
	if err := validateGallery(gid, token); err != nil {
		return domain.Task{}, err
	}
	if cfg.ImportPath == "" {
		return domain.Task{}, domain.NewValidationError("import_path", "cannot be empty", nil)
	}
	existing, err := m.store.CheckImportTask(ctx, gid, token)
	if err != nil {
		return domain.Task{}, fmt.Errorf("check import task: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}
	details, err := encodeDetails(&cfg)
	if err != nil {
		return domain.Task{}, err
	}
	return m.addTask(ctx, domain.Task{Type: domain.TaskTypeImport, GID: gid, Token: token, Details: details})
}

// AddFixGalleryPageTask enqueues a catalog-wide check for galleries with
// missing pages.
func (m *Manager) AddFixGalleryPageTask(ctx context.Context) (domain.Task, error) {
	return m.addGlobalTask(ctx, domain.TaskTypeFixGalleryPage, 0, nil)
}

// AddUpdateMeiliSearchDataTask enqueues a search index refresh of gid, or of
// every gallery when gid is 0.
func (m *Manager) AddUpdateMeiliSearchDataTask(ctx context.Context, gid int64) (domain.Task, error) {
	if gid < 0 {
		return domain.Task{}, domain.NewValidationError("gid", "cannot be negative", domain.ErrInvalidGID)
	}
	return m.addGlobalTask(ctx, domain.TaskTypeUpdateMeiliSearchData, gid, nil)
}

// AddUpdateTagTranslationTask enqueues a refresh of the tag translations.
func (m *Manager) AddUpdateTagTranslationTask(ctx context.Context, cfg *UpdateTagTranslationConfig) (domain.Task, error) {
	details, err := encodeDetails(cfg)
	if err != nil {
		return domain.Task{}, err
	}
	return m.addGlobalTask(ctx, domain.TaskTypeUpdateTagTranslation, 0, details)
}

func (m *Manager) addGlobalTask(ctx context.Context, typ domain.TaskType, gid int64, details *string) (domain.Task, error) {
	if err := m.checkOpen(); err != nil {
		return domain.Task{}, err
	}
	existing, err := m.store.CheckTask(ctx, typ, gid)
	if err != nil {
		return domain.Task{}, fmt.Errorf("check %s task: %w", typ, err)
	}
	if existing != nil {
		return *existing, nil
	}
	return m.addTask(ctx, domain.Task{Type: typ, GID: gid, Details: details})
}

// addTask stores t owned by this process and publishes new_task.
func (m *Manager) addTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	t.PID = m.lease.Self()
	added, err := m.store.AddTask(ctx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("add %s task: %w", t.Type, err)
	}
	m.logger.Info("task added",
		"task_id", added.ID,
		"task_type", added.Type.String(),
		"gid", added.GID)
	m.publish(Event{Type: EventNewTask, Task: added, TaskID: added.ID, TaskType: added.Type})
	return added, nil
}

func validateGallery(gid int64, token string) error {
	if gid <= 0 {
		return domain.NewValidationError("gid", "must be positive", domain.ErrInvalidGID)
	}
	if token == "" {
		return domain.NewValidationError("token", "cannot be empty", domain.ErrInvalidToken)
	}
	return nil
}
