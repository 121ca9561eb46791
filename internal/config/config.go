package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	// Base is the directory holding the database, its lock file and galleries.
	Base string `mapstructure:"base" validate:"required"`

	// DBPath overrides the database location. Empty means <Base>/data.db.
	DBPath string `mapstructure:"db_path"`

	// MaxTaskCount bounds the number of tasks a process runs at once.
	MaxTaskCount int `mapstructure:"max_task_count" validate:"gt=0"`

	MaxDownloadImgCount int  `mapstructure:"max_download_img_count" validate:"gt=0"`
	MaxImportImgCount   int  `mapstructure:"max_import_img_count" validate:"gt=0"`
	MaxRetryCount       int  `mapstructure:"max_retry_count" validate:"gte=0"`
	DownloadOriginalImg bool `mapstructure:"download_original_img"`
	MPV                 bool `mapstructure:"mpv"`

	RemovePreviousGallery bool   `mapstructure:"remove_previous_gallery"`
	ExportZipJpnTitle     bool   `mapstructure:"export_zip_jpn_title"`
	ExportAd              bool   `mapstructure:"export_ad"`
	ImportMethod          string `mapstructure:"import_method" validate:"oneof=keep copy move copy_then_delete"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Meili     MeiliConfig     `mapstructure:"meili"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabasePath returns the configured database file location.
func (c *Config) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.Base, "data.db")
}

// SchedulerConfig contains the polling and contention settings of the task manager
// and the storage engine.
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`

	// BeginRetryCount is how many times a busy transaction begin is retried
	// before the operation fails.
	BeginRetryCount int `mapstructure:"begin_retry_count" validate:"gt=0"`

	// CommitRetryCount bounds the commit retry loop under contention.
	CommitRetryCount int `mapstructure:"commit_retry_count" validate:"gt=0"`

	// BusySleep is the pause between commit attempts.
	BusySleep time.Duration `mapstructure:"busy_sleep" validate:"gt=0"`

	// BusyTimeout is handed to the engine as its own lock wait.
	BusyTimeout time.Duration `mapstructure:"busy_timeout" validate:"gte=0"`
}

// RemoteConfig contains the settings of the content host client.
type RemoteConfig struct {
	Ex      bool          `mapstructure:"ex"`
	Cookies string        `mapstructure:"cookies"`
	UA      string        `mapstructure:"ua"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// TagTranslationURL is where the EhTagTranslation database is fetched from.
	TagTranslationURL string `mapstructure:"tag_translation_url" validate:"omitempty,url"`
}

// MeiliConfig contains the search index settings. An empty host disables syncing.
type MeiliConfig struct {
	Host   string `mapstructure:"host" validate:"omitempty,url"`
	APIKey string `mapstructure:"api_key"`
}

// Enabled reports whether a search index is configured.
func (m MeiliConfig) Enabled() bool {
	return m.Host != ""
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Hostname string `mapstructure:"hostname" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`

	// TokenTTL is the lifetime of a bearer session created by login.
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

// LogConfig contains the logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}
