package domain

import "fmt"

// TaskType selects the executor that handles a task.
// Values are persisted, so the order must never change.
type TaskType int

const (
	TaskTypeDownload TaskType = iota
	TaskTypeExportZip
	TaskTypeUpdateMeiliSearchData
	TaskTypeFixGalleryPage
	TaskTypeImport
	TaskTypeUpdateTagTranslation
)

var taskTypeNames = map[TaskType]string{
	TaskTypeDownload:              "download",
	TaskTypeExportZip:             "export_zip",
	TaskTypeUpdateMeiliSearchData: "update_meili_search_data",
	TaskTypeFixGalleryPage:        "fix_gallery_page",
	TaskTypeImport:                "import",
	TaskTypeUpdateTagTranslation:  "update_tag_translation",
}

// String returns the snake_case name of the task type.
func (t TaskType) String() string {
	if name, ok := taskTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// Valid reports whether t is one of the known task types.
func (t TaskType) Valid() bool {
	_, ok := taskTypeNames[t]
	return ok
}

// IsOnetime reports whether at most one task of this kind may be in flight
// across all processes sharing a database.
func (t TaskType) IsOnetime() bool {
	switch t {
	case TaskTypeUpdateMeiliSearchData, TaskTypeFixGalleryPage, TaskTypeUpdateTagTranslation:
		return true
	default:
		return false
	}
}

// OnetimeTaskTypes lists the kinds for which IsOnetime is true.
func OnetimeTaskTypes() []TaskType {
	return []TaskType{
		TaskTypeUpdateMeiliSearchData,
		TaskTypeFixGalleryPage,
		TaskTypeUpdateTagTranslation,
	}
}

// ParseTaskType converts a snake_case name back into a TaskType.
func ParseTaskType(name string) (TaskType, error) {
	for t, n := range taskTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTaskType, name)
}

// Task is a persisted unit of scheduled work.
// PID is the OS process id of the current owner. Details is an opaque,
// kind-specific JSON document, nil when the kind needs no configuration.
type Task struct {
	ID      int64    `json:"id"`
	Type    TaskType `json:"type"`
	GID     int64    `json:"gid"`
	Token   string   `json:"token"`
	PID     int      `json:"pid"`
	Details *string  `json:"details"`
}

// DetailsOrEmpty returns the details blob or "" when it is nil.
func (t Task) DetailsOrEmpty() string {
	if t.Details == nil {
		return ""
	}
	return *t.Details
}
