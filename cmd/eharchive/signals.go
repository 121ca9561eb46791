package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// aborter is the part of the task manager signal handling drives.
type aborter interface {
	Abort()
	ForceAbort()
}

// watchSignals aborts m gracefully on the first SIGINT or SIGTERM and
// forcibly on the second. The returned function stops watching.
func watchSignals(m aborter, log *slog.Logger) (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		handleSignals(ch, done, m, log)
	}()
	return func() {
		signal.Stop(ch)
		close(done)
		<-finished
	}
}

func handleSignals(ch <-chan os.Signal, done <-chan struct{}, m aborter, log *slog.Logger) {
	first := true
	for {
		select {
		case <-done:
			return
		case sig := <-ch:
			if first {
				first = false
				log.Warn("aborting all tasks, send the signal again to force abort", "signal", sig.String())
				m.Abort()
				continue
			}
			log.Warn("force aborting all tasks", "signal", sig.String())
			m.ForceAbort()
			return
		}
	}
}
