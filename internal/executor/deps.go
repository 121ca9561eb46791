package executor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/eharchive/internal/config"
	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/events"
	"github.com/phrazzld/eharchive/internal/platform/ehentai"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/phrazzld/eharchive/internal/task"
)

// ErrAborted is returned by executors that stopped early on abort.
var ErrAborted = errors.New("task aborted")

// Remote is the part of the content host client used by executors.
type Remote interface {
	FetchMetadata(ctx context.Context, refs ...ehentai.GalleryRef) (map[int64]ehentai.MetadataResult, error)
	FetchGalleryPage(ctx context.Context, gid int64, token string, page int) (*ehentai.GalleryPage, error)
	FetchAllPages(ctx context.Context, gid int64, token string) ([]ehentai.PageRef, error)
	FetchMPVPage(ctx context.Context, gid int64, token string) (*ehentai.MPVPage, error)
	FetchMPVImage(ctx context.Context, mpv *ehentai.MPVPage, index int, reloadToken string) (*ehentai.MPVDispatch, error)
	FetchSinglePage(ctx context.Context, gid int64, pageToken string, index int, reloadToken string) (*ehentai.SinglePage, error)
	Download(ctx context.Context, rawURL, path string, onProgress ehentai.ProgressFunc) (int64, error)
	FetchTranslationDB(ctx context.Context, rawURL string) (*ehentai.TranslationDB, error)
}

var _ Remote = (*ehentai.Client)(nil)

// SearchIndex refreshes the search documents of galleries.
type SearchIndex interface {
	UpdateGallery(ctx context.Context, gids ...int64) error
}

// Defaults are the configured values that task details fall back on.
type Defaults struct {
	Base                  string
	DownloadOriginalImg   bool
	MaxDownloadImgCount   int
	MaxImportImgCount     int
	MaxRetryCount         int
	MPV                   bool
	RemovePreviousGallery bool
	ExportZipJpnTitle     bool
	ExportAd              bool
	ImportMethod          task.ImportMethod
	TagTranslationURL     string
}

// DefaultsFromConfig extracts the executor defaults from cfg.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		Base:                  cfg.Base,
		DownloadOriginalImg:   cfg.DownloadOriginalImg,
		MaxDownloadImgCount:   cfg.MaxDownloadImgCount,
		MaxImportImgCount:     cfg.MaxImportImgCount,
		MaxRetryCount:         cfg.MaxRetryCount,
		MPV:                   cfg.MPV,
		RemovePreviousGallery: cfg.RemovePreviousGallery,
		ExportZipJpnTitle:     cfg.ExportZipJpnTitle,
		ExportAd:              cfg.ExportAd,
		ImportMethod:          task.ImportMethod(cfg.ImportMethod),
		TagTranslationURL:     cfg.Remote.TagTranslationURL,
	}
}

func (d Defaults) download() task.DownloadConfig {
	return task.DownloadConfig{
		DownloadOriginalImg:   d.DownloadOriginalImg,
		MaxDownloadImgCount:   d.MaxDownloadImgCount,
		MaxRetryCount:         d.MaxRetryCount,
		MPV:                   d.MPV,
		RemovePreviousGallery: d.RemovePreviousGallery,
	}
}

func (d Defaults) importConfig() task.ImportConfig {
	return task.ImportConfig{
		MaxImportImgCount:     d.MaxImportImgCount,
		MPV:                   d.MPV,
		Method:                d.ImportMethod,
		RemovePreviousGallery: d.RemovePreviousGallery,
	}
}

func (d Defaults) exportZip() task.ExportZipConfig {
	return task.ExportZipConfig{
		JpnTitle: d.ExportZipJpnTitle,
		ExportAd: d.ExportAd,
	}
}

// Deps are the collaborators shared by all executors. Search is nil when
// no search index is configured.
type Deps struct {
	Store    store.CatalogStore
	Remote   Remote
	Events   events.EventEmitter
	Search   SearchIndex
	Defaults Defaults
	Logger   *slog.Logger
}

func (d *Deps) setDefaults() {
	if d.Events == nil {
		d.Events = events.NopEmitter{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Defaults.MaxDownloadImgCount <= 0 {
		d.Defaults.MaxDownloadImgCount = 1
	}
	if d.Defaults.MaxImportImgCount <= 0 {
		d.Defaults.MaxImportImgCount = 1
	}
	if d.Defaults.ImportMethod == "" {
		d.Defaults.ImportMethod = task.ImportMethodCopy
	}
}

// Registrar is satisfied by task.Manager.
type Registrar interface {
	Register(typ domain.TaskType, e task.Executor)
}

// Register installs an executor for every task kind on r.
func Register(r Registrar, d Deps) {
	d.setDefaults()
	r.Register(domain.TaskTypeDownload, &Download{deps: d})
	r.Register(domain.TaskTypeImport, &Import{deps: d})
	r.Register(domain.TaskTypeExportZip, &ExportZip{deps: d})
	r.Register(domain.TaskTypeFixGalleryPage, &FixGalleryPage{deps: d})
	r.Register(domain.TaskTypeUpdateMeiliSearchData, &UpdateMeiliSearchData{deps: d})
	r.Register(domain.TaskTypeUpdateTagTranslation, &UpdateTagTranslation{deps: d})
}

func (d *Deps) taskLogger(t domain.Task) *slog.Logger {
	return d.Logger.With(
		"component", "executor",
		"task_id", t.ID,
		"task_type", t.Type.String(),
		"gid", t.GID)
}

func (d *Deps) emit(ctx context.Context, typ events.GalleryEventType, gid int64) {
	if err := d.Events.EmitEvent(ctx, events.NewGalleryEvent(typ, gid)); err != nil {
		d.Logger.Warn("failed to emit gallery event",
			"event_type", string(typ),
			"gid", gid,
			"error", err)
	}
}

// transient marks storage contention as recoverable.
func transient(err error) error {
	if errors.Is(err, store.ErrBusy) || errors.Is(err, store.ErrCommitBusy) {
		return task.Recoverable(err)
	}
	return err
}
