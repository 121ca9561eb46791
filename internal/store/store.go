package store

import (
	"context"

	"github.com/phrazzld/eharchive/internal/domain"
)

// TaskStore defines the persistence of the task queue.
type TaskStore interface {
	// AddTask inserts the task and returns it with its generated id.
	AddTask(ctx context.Context, t domain.Task) (domain.Task, error)

	// GetTask retrieves a task by id.
	// Returns ErrTaskNotFound if the task does not exist.
	GetTask(ctx context.Context, id int64) (domain.Task, error)

	// GetTasks returns every queued task ordered by id.
	GetTasks(ctx context.Context) ([]domain.Task, error)

	// GetTasksByPID returns the tasks owned by pid, ordered by id.
	GetTasksByPID(ctx context.Context, pid int) ([]domain.Task, error)

	// GetOtherPIDTasks returns the tasks not owned by pid, ordered by id.
	GetOtherPIDTasks(ctx context.Context, pid int) ([]domain.Task, error)

	// CheckDownloadTask returns the pending download task for the gallery, or nil.
	CheckDownloadTask(ctx context.Context, gid int64, token string) (*domain.Task, error)

	// CheckExportZipTask returns the pending export task with identical
	// details for the gallery, or nil.
	CheckExportZipTask(ctx context.Context, gid int64, details *string) (*domain.Task, error)

	// CheckImportTask returns the pending import task for the gallery, or nil.
	CheckImportTask(ctx context.Context, gid int64, token string) (*domain.Task, error)

	// CheckTask returns the first pending task of a kind for gid, or nil.
	CheckTask(ctx context.Context, typ domain.TaskType, gid int64) (*domain.Task, error)

	// CheckOnetimeTask returns the lowest-id one-shot task, or nil.
	CheckOnetimeTask(ctx context.Context) (*domain.Task, error)

	// SetTaskPID atomically transfers ownership of t to pid.
	// claimed is false when the stored pid no longer equals t.PID, meaning
	// another process claimed the task first.
	SetTaskPID(ctx context.Context, t domain.Task, pid int) (updated domain.Task, claimed bool, err error)

	// UpdateTask rewrites the details of a task.
	UpdateTask(ctx context.Context, t domain.Task) error

	// DeleteTask removes a task. Deleting a missing task is not an error.
	DeleteTask(ctx context.Context, id int64) error
}

// GalleryStore defines the persistence of the gallery catalog.
type GalleryStore interface {
	// AddGMeta inserts or replaces a gallery row.
	AddGMeta(ctx context.Context, g *domain.GMeta) error

	// GetGMeta retrieves a gallery by gid.
	// Returns ErrGalleryNotFound if the gallery does not exist.
	GetGMeta(ctx context.Context, gid int64) (*domain.GMeta, error)

	// GetGMetas retrieves the galleries that exist among gids.
	GetGMetas(ctx context.Context, gids []int64) ([]domain.GMeta, error)

	// GetGIDs pages through all gids in ascending order.
	GetGIDs(ctx context.Context, offset, limit int) ([]int64, error)

	// CountGMeta returns the number of galleries.
	CountGMeta(ctx context.Context) (int, error)

	// AddGTag replaces the tag set of a gallery.
	AddGTag(ctx context.Context, gid int64, tags []string) error

	// GetGTags returns the tags of a gallery.
	GetGTags(ctx context.Context, gid int64) ([]domain.Tag, error)

	// UpdateTags sets translations on existing tags and creates missing ones.
	UpdateTags(ctx context.Context, tags []domain.Tag) error

	// DeleteGallery removes a gallery with its pages, tags and unreferenced files.
	DeleteGallery(ctx context.Context, gid int64) error
}

// PageStore defines the persistence of pages, files and file flags.
type PageStore interface {
	// AddPMeta inserts or replaces the page at (gid, index).
	AddPMeta(ctx context.Context, p *domain.PMeta) error

	// GetPMeta returns the page at (gid, index) or ErrPageNotFound.
	GetPMeta(ctx context.Context, gid int64, index int) (*domain.PMeta, error)

	// GetPMetaByToken returns the page of gid carrying token or ErrPageNotFound.
	GetPMetaByToken(ctx context.Context, gid int64, token string) (*domain.PMeta, error)

	// GetPMetaByTokenOnly returns pages of any gallery carrying token.
	GetPMetaByTokenOnly(ctx context.Context, token string) ([]domain.PMeta, error)

	// GetPMetas returns every page of a gallery ordered by index.
	GetPMetas(ctx context.Context, gid int64) ([]domain.PMeta, error)

	// CountPMeta returns the number of pages stored for a gallery.
	CountPMeta(ctx context.Context, gid int64) (int, error)

	// AddFile inserts a file row and sets its id.
	AddFile(ctx context.Context, f *domain.File) error

	// GetFile returns a file by id or ErrFileNotFound.
	GetFile(ctx context.Context, id int64) (*domain.File, error)

	// GetFiles returns every file for a page token.
	GetFiles(ctx context.Context, token string) ([]domain.File, error)

	// UpdateFile rewrites path, size and originality of a file.
	UpdateFile(ctx context.Context, f *domain.File) error

	// DeleteFile removes a file row. The file on disk is left alone.
	DeleteFile(ctx context.Context, id int64) error

	// GetFileMeta returns the flags of a token, zero-valued when unset.
	GetFileMeta(ctx context.Context, token string) (*domain.FileMeta, error)

	// SetFileMeta inserts or replaces the flags of a token.
	SetFileMeta(ctx context.Context, m *domain.FileMeta) error
}

// UserStore defines the persistence of users and their sessions.
type UserStore interface {
	AddUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByName(ctx context.Context, username string) (*domain.User, error)
	GetUsers(ctx context.Context, offset, limit int) ([]domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	DeleteUser(ctx context.Context, id int64) error
	UserCount(ctx context.Context) (int, error)

	AddToken(ctx context.Context, t *domain.Token) error
	GetToken(ctx context.Context, token string) (*domain.Token, error)
	UpdateTokenLastUsed(ctx context.Context, token string) error
	DeleteToken(ctx context.Context, token string) error
	DeleteExpiredTokens(ctx context.Context) (int64, error)

	AddSharedToken(ctx context.Context, t *domain.SharedToken) error
	GetSharedToken(ctx context.Context, token string) (*domain.SharedToken, error)
	GetSharedTokens(ctx context.Context, typ domain.SharedTokenType) ([]domain.SharedToken, error)
	DeleteSharedToken(ctx context.Context, token string) error
}

// CatalogStore is what executors need: tasks, galleries and pages.
type CatalogStore interface {
	TaskStore
	GalleryStore
	PageStore
}
