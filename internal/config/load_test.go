package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./downloads", cfg.Base)
	assert.Equal(t, filepath.Join("downloads", "data.db"), filepath.Clean(cfg.DatabasePath()))
	assert.Equal(t, 1, cfg.MaxTaskCount)
	assert.Equal(t, 3, cfg.MaxDownloadImgCount)
	assert.Equal(t, 3, cfg.MaxRetryCount)
	assert.Equal(t, "copy", cfg.ImportMethod)
	assert.Equal(t, time.Second, cfg.Scheduler.PollInterval)
	assert.Equal(t, 60, cfg.Scheduler.CommitRetryCount)
	assert.Equal(t, 30*time.Second, cfg.Remote.Timeout)
	assert.False(t, cfg.Meili.Enabled())
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EHARCHIVE_BASE", "/srv/eh")
	t.Setenv("EHARCHIVE_MAX_TASK_COUNT", "4")
	t.Setenv("EHARCHIVE_MPV", "true")
	t.Setenv("EHARCHIVE_SCHEDULER_POLL_INTERVAL", "250ms")
	t.Setenv("EHARCHIVE_MEILI_HOST", "http://127.0.0.1:7700")
	t.Setenv("EHARCHIVE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/eh", cfg.Base)
	assert.Equal(t, "/srv/eh/data.db", cfg.DatabasePath())
	assert.Equal(t, 4, cfg.MaxTaskCount)
	assert.True(t, cfg.MPV)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.True(t, cfg.Meili.Enabled())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
base: /data/gallery
max_task_count: 2
import_method: move
remote:
  ex: true
  cookies: "ipb_member_id=1; ipb_pass_hash=x"
server:
  port: 9000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Run("file values", func(t *testing.T) {
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/data/gallery", cfg.Base)
		assert.Equal(t, 2, cfg.MaxTaskCount)
		assert.Equal(t, "move", cfg.ImportMethod)
		assert.True(t, cfg.Remote.Ex)
		assert.Equal(t, 9000, cfg.Server.Port)
	})

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("EHARCHIVE_SERVER_PORT", "9100")
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Server.Port)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero task count", "EHARCHIVE_MAX_TASK_COUNT", "0"},
		{"unknown import method", "EHARCHIVE_IMPORT_METHOD", "symlink"},
		{"bad log level", "EHARCHIVE_LOG_LEVEL", "loud"},
		{"bad port", "EHARCHIVE_SERVER_PORT", "70000"},
		{"bad meili host", "EHARCHIVE_MEILI_HOST", "not a url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load("")
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "invalid configuration")
		})
	}
}
