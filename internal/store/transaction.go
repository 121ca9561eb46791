package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/eharchive/internal/platform/logger"
)

// TxFn is a function that executes within a database transaction.
// It receives the query handle bound to the transaction. The transaction is
// committed if the function returns nil, or rolled back if it returns an error.
type TxFn func(ctx context.Context, q DBTX) error

// Transactor runs a function inside a transaction of the requested mode.
// retry is true, with a nil error, when the transaction could not begin
// because the database was busy; fn has not run in that case.
type Transactor interface {
	Transaction(ctx context.Context, mode TxMode, fn TxFn) (retry bool, err error)
}

// BusyPolicy bounds how often RunInTransaction retries a busy begin.
type BusyPolicy struct {
	// Attempts is the total number of begin attempts. Zero or negative means one.
	Attempts int

	// Sleep is the base delay between attempts; attempt n waits n*Sleep.
	Sleep time.Duration
}

// DefaultBusyPolicy returns a BusyPolicy with reasonable defaults
func DefaultBusyPolicy() BusyPolicy {
	return BusyPolicy{
		Attempts: 10,
		Sleep:    100 * time.Millisecond,
	}
}

// RunInTransaction executes fn inside a transaction, retrying while the
// database is busy at begin. It returns ErrBusy once the policy is exhausted
// and the function's own error otherwise.
func RunInTransaction(ctx context.Context, t Transactor, mode TxMode, policy BusyPolicy, fn TxFn) error {
	log := logger.FromContext(ctx)

	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		retry, err := t.Transaction(ctx, mode, fn)
		if err != nil {
			return err
		}
		if !retry {
			return nil
		}
		if attempt >= attempts {
			log.Warn("giving up on busy database",
				slog.Int("attempts", attempt),
				slog.String("mode", string(mode)))
			return fmt.Errorf("%w: %d attempts", ErrBusy, attempt)
		}

		log.Debug("database busy, retrying transaction",
			slog.Int("attempt", attempt),
			slog.String("mode", string(mode)))

		timer := time.NewTimer(time.Duration(attempt) * policy.Sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
