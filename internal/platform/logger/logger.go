package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phrazzld/eharchive/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel converts a configured level name (case-insensitive) into a slog.Level.
// ok is false for unknown names, in which case info is returned.
func ParseLevel(name string) (level slog.Level, ok bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Setup initializes and configures the application's logging system based on
// the provided configuration. It creates a structured JSON logger with the
// appropriate log level and sets it as the default logger for the application.
//
// When cfg.File is set, records are written both to stdout and to a rotated file.
// The returned io.Closer releases the log file and is safe to call when no file
// is configured.
func Setup(cfg config.LogConfig) (*slog.Logger, io.Closer, error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.LogConfig, stdout io.Writer) (*slog.Logger, io.Closer, error) {
	level, ok := ParseLevel(cfg.Level)
	if !ok {
		// Create a temporary logger to output the warning
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Level,
			"default_level", "info")
	}

	var out io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(stdout, rotator)
		closer = rotator
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler)

	// Set this logger as the default for the application
	// This allows using the slog package functions directly (slog.Info, slog.Error, etc.)
	slog.SetDefault(logger)

	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
