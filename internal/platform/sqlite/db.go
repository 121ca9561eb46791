package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/phrazzld/eharchive/internal/store"
	_ "modernc.org/sqlite"
)

const (
	// DefaultDBName is the database file created inside the base directory.
	DefaultDBName = "data.db"

	// LockFileName is the advisory lock file created beside the database.
	LockFileName = "db.lock"
)

// Options configures Open.
type Options struct {
	// Base is the managed base directory. It is created when missing.
	Base string

	// Path overrides the database file location. Defaults to <Base>/data.db.
	Path string

	// BusyTimeout is how long the engine itself waits on a locked database
	// before reporting busy.
	BusyTimeout time.Duration

	// BeginRetryCount bounds retries of a busy transaction begin.
	BeginRetryCount int

	// CommitRetryCount bounds retries of a busy commit.
	CommitRetryCount int

	// BusySleep is the delay between busy retries.
	BusySleep time.Duration

	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Path == "" {
		o.Path = filepath.Join(o.Base, DefaultDBName)
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.BeginRetryCount <= 0 {
		o.BeginRetryCount = 10
	}
	if o.CommitRetryCount <= 0 {
		o.CommitRetryCount = 60
	}
	if o.BusySleep <= 0 {
		o.BusySleep = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// DB is the storage engine. It implements every store interface on one
// SQLite file guarded by an advisory lock.
type DB struct {
	db     *sql.DB
	opts   Options
	lock   *fileLock
	logger *slog.Logger
	tags   *tagCache

	mu     sync.Mutex
	closed bool
}

// Compile-time checks
var (
	_ store.Transactor   = (*DB)(nil)
	_ store.TaskStore    = (*DB)(nil)
	_ store.GalleryStore = (*DB)(nil)
	_ store.PageStore    = (*DB)(nil)
	_ store.UserStore    = (*DB)(nil)
)

// Open opens (creating when absent) the database inside opts.Base, brings the
// schema up to date and removes expired session tokens.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Base == "" {
		return nil, errors.New("base directory is required")
	}
	opts.setDefaults()
	logger := opts.Logger.With("component", "sqlite")

	if err := os.MkdirAll(opts.Base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(opts.Path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection per process: SQLite serializes writers anyway, and a
	// single handle keeps BEGIN/COMMIT on the same connection.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{
		db:     sqlDB,
		opts:   opts,
		lock:   newFileLock(filepath.Join(opts.Base, LockFileName), logger),
		logger: logger,
		tags:   newTagCache(),
	}

	if err := d.migrate(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}

	removed, err := d.DeleteExpiredTokens(ctx)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to remove expired tokens: %w", err)
	}
	if removed > 0 {
		logger.Info("removed expired tokens", slog.Int64("count", removed))
	}

	logger.Debug("database opened", slog.String("path", opts.Path))
	return d, nil
}

func dsn(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	return path + "?" + q.Encode()
}

// migrate runs the migration chain under the advisory lock, retrying while
// another process holds the database.
func (d *DB) migrate(ctx context.Context) error {
	return retry.Do(
		func() error {
			if err := d.lock.Lock(); err != nil {
				return retry.Unrecoverable(err)
			}
			err := migrate(ctx, d.db, d.logger)
			if uerr := d.lock.Unlock(); uerr != nil {
				d.logger.Error("failed to release file lock", slog.String("error", uerr.Error()))
			}
			if err != nil && !isBusy(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(uint(d.opts.BeginRetryCount)),
		retry.Delay(d.opts.BusySleep),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn("database busy during migration, retrying",
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()))
		}),
	)
}

// Version returns the stored schema version.
func (d *DB) Version(ctx context.Context) (string, error) {
	var ver string
	err := d.db.QueryRowContext(ctx, `SELECT ver FROM version WHERE id = ?`, versionID).Scan(&ver)
	if err != nil {
		return "", MapError(err, "version", "select", store.ErrNotFound)
	}
	return ver, nil
}

// Base returns the managed base directory.
func (d *DB) Base() string {
	return d.opts.Base
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.opts.Path
}

func (d *DB) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close closes the database and the lock file. Closing twice is a no-op.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	err := d.db.Close()
	if lerr := d.lock.Close(); lerr != nil && err == nil {
		err = lerr
	}
	return err
}
