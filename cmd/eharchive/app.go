package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/eharchive/internal/config"
	"github.com/phrazzld/eharchive/internal/events"
	"github.com/phrazzld/eharchive/internal/executor"
	"github.com/phrazzld/eharchive/internal/platform/ehentai"
	"github.com/phrazzld/eharchive/internal/platform/logger"
	"github.com/phrazzld/eharchive/internal/platform/meili"
	"github.com/phrazzld/eharchive/internal/platform/sqlite"
	"github.com/phrazzld/eharchive/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config

	logger    *slog.Logger
	logCloser io.Closer

	db      *sqlite.DB
	remote  *ehentai.Client
	emitter *events.InMemoryEventEmitter
	syncer  *meili.Syncer
	manager *task.Manager

	stopSync context.CancelFunc
	syncDone chan struct{}
}

// newApplication opens the database and wires the task manager with every
// executor. The caller owns the result and must call cleanup.
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	log, logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	app := &application{config: cfg, logger: log, logCloser: logCloser}

	app.db, err = sqlite.Open(ctx, sqlite.Options{
		Base:             cfg.Base,
		Path:             cfg.DBPath,
		BusyTimeout:      cfg.Scheduler.BusyTimeout,
		BeginRetryCount:  cfg.Scheduler.BeginRetryCount,
		CommitRetryCount: cfg.Scheduler.CommitRetryCount,
		BusySleep:        cfg.Scheduler.BusySleep,
		Logger:           log,
	})
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info("database opened", "path", app.db.Path())

	app.remote, err = ehentai.New(ehentai.Options{
		Ex:      cfg.Remote.Ex,
		Cookies: cfg.Remote.Cookies,
		UA:      cfg.Remote.UA,
		Timeout: cfg.Remote.Timeout,
		Logger:  log,
	})
	if err != nil {
		_ = app.db.Close()
		_ = logCloser.Close()
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	app.emitter = events.NewInMemoryEventEmitter(log)

	// A nil interface keeps the search executor reporting an unconfigured index.
	var search executor.SearchIndex
	if cfg.Meili.Enabled() {
		app.syncer = meili.NewSyncer(meili.NewClient(cfg.Meili.Host, cfg.Meili.APIKey), app.db, log)
		app.emitter.RegisterHandler(app.syncer)
		search = app.syncer

		syncCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		app.stopSync = stop
		app.syncDone = make(chan struct{})
		go func() {
			defer close(app.syncDone)
			app.syncer.Run(syncCtx)
		}()
		log.Info("search index sync enabled", "host", cfg.Meili.Host)
	}

	app.manager = task.NewManager(app.db, task.NewProcessLease(), task.ManagerConfig{
		MaxTaskCount: cfg.MaxTaskCount,
		PollInterval: cfg.Scheduler.PollInterval,
	}, log)
	executor.Register(app.manager, executor.Deps{
		Store:    app.db,
		Remote:   app.remote,
		Events:   app.emitter,
		Search:   search,
		Defaults: executor.DefaultsFromConfig(cfg),
		Logger:   log,
	})

	log.Info("application initialized", "base", cfg.Base, "max_task_count", cfg.MaxTaskCount)
	return app, nil
}

// cleanup stops the search sync and closes the manager, which releases the
// database.
func (app *application) cleanup() {
	if app.stopSync != nil {
		app.stopSync()
		<-app.syncDone
	}
	if app.manager != nil {
		if err := app.manager.Close(); err != nil {
			app.logger.Error("error closing task manager", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
	if err := app.logCloser.Close(); err != nil {
		app.logger.Error("error closing log file", "error", err)
	}
}

// runTasks runs the scheduler until the queue is drained, or until aborted
// by a signal.
func (app *application) runTasks(ctx context.Context, forever bool) error {
	stop := watchSignals(app.manager, app.logger)
	defer stop()
	return app.manager.Run(ctx, forever)
}
