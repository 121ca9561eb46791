package api

import (
	"github.com/phrazzld/eharchive/internal/task"
)

// Body status codes of failed responses. Generic failures reuse the HTTP
// status as their code.
const (
	StatusInvalidBody        = 1
	StatusMissingGallery     = 2
	StatusMissingToken       = 3
	StatusInvalidConfig      = 4
	StatusInvalidCredentials = 5
)

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Username  string `json:"username"   validate:"required"`
	Password  string `json:"password"   validate:"required,min=1,max=72"`
	SetCookie bool   `json:"set_cookie"`
	HTTPOnly  *bool  `json:"http_only"`
	Secure    bool   `json:"secure"`
	Client    string `json:"client"     validate:"max=128"`
	Device    string `json:"device"     validate:"max=128"`
}

// LoginResponse is the session created by a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	UID       int64  `json:"uid"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"is_admin"`
	ExpiresAt string `json:"expires_at"`
}

// UserResponse describes the authenticated user.
type UserResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	IsAdmin     bool   `json:"is_admin"`
	Permissions int    `json:"permissions"`
}

// GalleryRequest names a gallery by link or by gid and token.
type GalleryRequest struct {
	URL   string `json:"url"`
	GID   int64  `json:"gid"   validate:"gte=0"`
	Token string `json:"token"`
}

// DownloadTaskRequest defines the payload for queueing a download.
type DownloadTaskRequest struct {
	GalleryRequest
	Config *task.DownloadConfig `json:"cfg"`
}

// ExportZipTaskRequest defines the payload for queueing an export.
type ExportZipTaskRequest struct {
	GID    int64                 `json:"gid" validate:"required,gt=0"`
	Config *task.ExportZipConfig `json:"cfg"`
}

// ImportTaskRequest defines the payload for queueing an import.
type ImportTaskRequest struct {
	GalleryRequest
	Config task.ImportConfig `json:"cfg"`
}

// UpdateMeiliSearchDataTaskRequest selects one gallery, or all with gid 0.
type UpdateMeiliSearchDataTaskRequest struct {
	GID int64 `json:"gid" validate:"gte=0"`
}

// UpdateTagTranslationTaskRequest optionally names a local database file.
type UpdateTagTranslationTaskRequest struct {
	File string `json:"file"`
}
