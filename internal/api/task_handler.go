package api

import (
	"context"
	"net/http"

	"github.com/phrazzld/eharchive/internal/api/shared"
	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/platform/logger"
	"github.com/phrazzld/eharchive/internal/task"
)

// TaskService is the part of the task manager exposed over HTTP.
type TaskService interface {
	Tasks(ctx context.Context) ([]task.Detail, error)
	AddDownloadTask(ctx context.Context, gid int64, token string, cfg *task.DownloadConfig) (domain.Task, error)
	AddExportZipTask(ctx context.Context, gid int64, cfg *task.ExportZipConfig) (domain.Task, error)
	AddImportTask(ctx context.Context, gid int64, token string, cfg task.ImportConfig) (domain.Task, error)
	AddFixGalleryPageTask(ctx context.Context) (domain.Task, error)
	AddUpdateMeiliSearchDataTask(ctx context.Context, gid int64) (domain.Task, error)
	AddUpdateTagTranslationTask(ctx context.Context, cfg *task.UpdateTagTranslationConfig) (domain.Task, error)
}

var _ TaskService = (*task.Manager)(nil)

// TaskHandler admits and lists tasks.
type TaskHandler struct {
	tasks TaskService
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// List handles GET /tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	details, err := h.tasks.Tasks(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	shared.RespondWithData(w, r, http.StatusOK, details)
}

// Download handles PUT /task/download.
func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadTaskRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	gid, token, ok := resolveGallery(w, r, req.GalleryRequest)
	if !ok {
		return
	}
	if req.Config != nil && req.Config.MaxDownloadImgCount < 0 {
		shared.RespondWithError(w, r, http.StatusBadRequest, StatusInvalidConfig, "cfg is invalid")
		return
	}
	h.respond(w, r, "download")(h.tasks.AddDownloadTask(r.Context(), gid, token, req.Config))
}

// ExportZip handles PUT /task/export_zip.
func (h *TaskHandler) ExportZip(w http.ResponseWriter, r *http.Request) {
	var req ExportZipTaskRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	h.respond(w, r, "export_zip")(h.tasks.AddExportZipTask(r.Context(), req.GID, req.Config))
}

// Import handles PUT /task/import.
func (h *TaskHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportTaskRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	gid, token, ok := resolveGallery(w, r, req.GalleryRequest)
	if !ok {
		return
	}
	if req.Config.ImportPath == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, StatusInvalidConfig, "cfg.import_path is required")
		return
	}
	h.respond(w, r, "import")(h.tasks.AddImportTask(r.Context(), gid, token, req.Config))
}

// FixGalleryPage handles PUT /task/fix_gallery_page.
func (h *TaskHandler) FixGalleryPage(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, "fix_gallery_page")(h.tasks.AddFixGalleryPageTask(r.Context()))
}

// UpdateMeiliSearchData handles PUT /task/update_meili_search_data. An
// empty body refreshes every gallery.
func (h *TaskHandler) UpdateMeiliSearchData(w http.ResponseWriter, r *http.Request) {
	var req UpdateMeiliSearchDataTaskRequest
	if !decodeOptionalRequest(w, r, &req) {
		return
	}
	h.respond(w, r, "update_meili_search_data")(h.tasks.AddUpdateMeiliSearchDataTask(r.Context(), req.GID))
}

// UpdateTagTranslation handles PUT /task/update_tag_translation.
func (h *TaskHandler) UpdateTagTranslation(w http.ResponseWriter, r *http.Request) {
	var req UpdateTagTranslationTaskRequest
	if !decodeOptionalRequest(w, r, &req) {
		return
	}
	var cfg *task.UpdateTagTranslationConfig
	if req.File != "" {
		cfg = &task.UpdateTagTranslationConfig{File: req.File}
	}
	h.respond(w, r, "update_tag_translation")(h.tasks.AddUpdateTagTranslationTask(r.Context(), cfg))
}

// respond writes the outcome of an admission call.
func (h *TaskHandler) respond(w http.ResponseWriter, r *http.Request, kind string) func(domain.Task, error) {
	return func(t domain.Task, err error) {
		if err != nil {
			HandleAPIError(w, r, err, "Failed to add task")
			return
		}
		logger.FromContext(r.Context()).Info("task admitted", "task_type", kind, "task_id", t.ID, "gid", t.GID)
		shared.RespondWithData(w, r, http.StatusCreated, t)
	}
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithData(w, r, http.StatusOK, true)
}
