package task

import (
	"encoding/json"
	"fmt"

	"github.com/phrazzld/eharchive/internal/domain"
)

// Status is the lifecycle state of a task as seen by clients of the manager.
type Status int

// Possible task status values.
const (
	StatusWait Status = iota
	StatusRunning
	StatusFinished
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusWait:
		return "wait"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// DownloadDetail tracks one page being fetched by a download task.
type DownloadDetail struct {
	Index       int    `json:"index"`
	Token       string `json:"token"`
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	IsOriginal  bool   `json:"is_original"`
	Total       int64  `json:"total"`
	Started     int64  `json:"started"`
	Downloaded  int64  `json:"downloaded"`
	Speed       int64  `json:"speed"`
	LastUpdated int64  `json:"last_updated"`
}

// DownloadProgress is the progress payload of download tasks.
// Started is a unix millisecond timestamp.
type DownloadProgress struct {
	DownloadedPage  int              `json:"downloaded_page"`
	FailedPage      int              `json:"failed_page"`
	TotalPage       int              `json:"total_page"`
	Started         int64            `json:"started"`
	DownloadedBytes int64            `json:"downloaded_bytes"`
	Details         []DownloadDetail `json:"details"`
}

type ExportZipProgress struct {
	AddedPage int `json:"added_page"`
	TotalPage int `json:"total_page"`
}

type UpdateMeiliSearchDataProgress struct {
	TotalGallery   int `json:"total_gallery"`
	UpdatedGallery int `json:"updated_gallery"`
}

type FixGalleryPageProgress struct {
	TotalGallery   int `json:"total_gallery"`
	CheckedGallery int `json:"checked_gallery"`
}

type ImportProgress struct {
	ImportedPage int `json:"imported_page"`
	FailedPage   int `json:"failed_page"`
	TotalPage    int `json:"total_page"`
}

type UpdateTagTranslationProgress struct {
	AddedTag int `json:"added_tag"`
	TotalTag int `json:"total_tag"`
}

// Detail is the in-memory view of a task: its row plus the latest progress
// and outcome reported through events.
type Detail struct {
	Base     domain.Task `json:"base"`
	Progress any         `json:"progress,omitempty"`
	Status   Status      `json:"status"`
	Error    string      `json:"error,omitempty"`
	Fataled  bool        `json:"fataled,omitempty"`
}

// Apply folds an event about the same task into the detail.
func (d *Detail) Apply(e Event) {
	switch e.Type {
	case EventNewTask, EventTaskUpdated:
		d.Base = e.Task
	case EventTaskStarted:
		d.Base = e.Task
		d.Status = StatusRunning
		d.Error = ""
		d.Fataled = false
	case EventTaskProgress:
		d.Progress = e.Progress
	case EventTaskFinished:
		d.Status = StatusFinished
	case EventTaskError:
		d.Status = StatusFailed
		d.Error = e.Error
		d.Fataled = e.Fatal
	}
}

// DownloadConfig is the details blob of a download task.
type DownloadConfig struct {
	DownloadOriginalImg   bool `json:"download_original_img"`
	MaxDownloadImgCount   int  `json:"max_download_img_count"`
	MaxRetryCount         int  `json:"max_retry_count"`
	MPV                   bool `json:"mpv"`
	RemovePreviousGallery bool `json:"remove_previous_gallery"`
}

// ExportZipConfig is the details blob of an export task. An empty Output
// places the archive in the base directory.
type ExportZipConfig struct {
	JpnTitle  bool   `json:"jpn_title"`
	MaxLength int    `json:"max_length"`
	ExportAd  bool   `json:"export_ad"`
	Output    string `json:"output,omitempty"`
}

// ImportMethod selects what happens to the source files of an import.
type ImportMethod string

const (
	ImportMethodKeep           ImportMethod = "keep"
	ImportMethodCopy           ImportMethod = "copy"
	ImportMethodMove           ImportMethod = "move"
	ImportMethodCopyThenDelete ImportMethod = "copy_then_delete"
)

// Valid reports whether m is one of the known methods.
func (m ImportMethod) Valid() bool {
	switch m {
	case ImportMethodKeep, ImportMethodCopy, ImportMethodMove, ImportMethodCopyThenDelete:
		return true
	}
	return false
}

// ImportSize says which rendition of the pages the imported files are.
// Values above ImportSizeOriginal are the width the files were resampled
// to; a file narrower than that is the original.
type ImportSize int

const (
	ImportSizeResampled ImportSize = iota
	ImportSizeOriginal
)

// ReplacedGallery names an older version of a gallery removed after import.
type ReplacedGallery struct {
	GID   int64  `json:"gid"`
	Token string `json:"token"`
}

// ImportConfig is the details blob of an import task. ImportPath is a
// directory or an archive.
type ImportConfig struct {
	MaxImportImgCount     int               `json:"max_import_img_count"`
	MPV                   bool              `json:"mpv"`
	Method                ImportMethod      `json:"method"`
	RemovePreviousGallery bool              `json:"remove_previous_gallery"`
	ReplacedGallery       []ReplacedGallery `json:"replaced_gallery,omitempty"`
	ImportPath            string            `json:"import_path"`
	Size                  ImportSize        `json:"size"`
}

// UpdateTagTranslationConfig is the details blob of a tag translation
// refresh. An empty File fetches the database from the network.
type UpdateTagTranslationConfig struct {
	File string `json:"file,omitempty"`
}

// encodeDetails serializes a config blob, keeping nil configs as SQL NULL.
func encodeDetails[T any](cfg *T) (*string, error) {
	if cfg == nil {
		return nil, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode task details: %w", err)
	}
	s := string(b)
	return &s, nil
}

// DecodeDetails parses the details blob of t into a T. A task without details
// yields def unchanged.
func DecodeDetails[T any](t domain.Task, def T) (T, error) {
	if t.Details == nil || *t.Details == "" {
		return def, nil
	}
	if err := json.Unmarshal([]byte(*t.Details), &def); err != nil {
		return def, fmt.Errorf("decode details of task %d: %w", t.ID, err)
	}
	return def, nil
}
