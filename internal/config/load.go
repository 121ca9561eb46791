package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g. EHARCHIVE_BASE.
const EnvPrefix = "EHARCHIVE"

// setDefaults registers the default value of every key. Keys must be known
// to viper for AutomaticEnv to apply during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("base", "./downloads")
	v.SetDefault("db_path", "")
	v.SetDefault("max_task_count", 1)
	v.SetDefault("max_download_img_count", 3)
	v.SetDefault("max_import_img_count", 3)
	v.SetDefault("max_retry_count", 3)
	v.SetDefault("download_original_img", false)
	v.SetDefault("mpv", false)
	v.SetDefault("remove_previous_gallery", false)
	v.SetDefault("export_zip_jpn_title", false)
	v.SetDefault("export_ad", false)
	v.SetDefault("import_method", "copy")

	v.SetDefault("scheduler.poll_interval", "1s")
	v.SetDefault("scheduler.begin_retry_count", 10)
	v.SetDefault("scheduler.commit_retry_count", 60)
	v.SetDefault("scheduler.busy_sleep", "1s")
	v.SetDefault("scheduler.busy_timeout", "5s")

	v.SetDefault("remote.ex", false)
	v.SetDefault("remote.cookies", "")
	v.SetDefault("remote.ua", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.tag_translation_url",
		"https://github.com/EhTagTranslation/Database/releases/latest/download/db.raw.json")

	v.SetDefault("meili.host", "")
	v.SetDefault("meili.api_key", "")

	v.SetDefault("server.hostname", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.token_ttl", "720h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
}

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
