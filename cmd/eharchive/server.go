package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds how long in-flight requests may take after abort.
const shutdownTimeout = 10 * time.Second

// serve runs the scheduler forever next to the HTTP server. The first
// signal aborts the scheduler and shuts the server down; serve returns once
// running tasks have finished.
func (app *application) serve(ctx context.Context) error {
	stop := watchSignals(app.manager, app.logger)
	defer stop()

	addr := net.JoinHostPort(app.config.Server.Hostname, strconv.Itoa(app.config.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.manager.Run(gctx, true)
	})
	g.Go(func() error {
		app.logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-app.manager.AbortContext().Done():
		}
		app.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}
