package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/eharchive/internal/store"
)

// Transaction runs fn inside a transaction on a dedicated connection.
//
// If the database is busy when the transaction begins, Transaction returns
// retry=true with a nil error and fn is not called. Once the transaction has
// begun the advisory file lock is held until commit or rollback. A busy commit
// is retried every BusySleep up to CommitRetryCount times before
// store.ErrCommitBusy is returned. A panic in fn rolls back, releases the
// lock and is re-raised.
func (d *DB) Transaction(ctx context.Context, mode store.TxMode, fn store.TxFn) (retry bool, err error) {
	if d.isClosed() {
		return false, store.ErrClosed
	}
	if !mode.Valid() {
		return false, fmt.Errorf("invalid transaction mode %q", mode)
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			d.logger.Warn("failed to release connection", slog.String("error", cerr.Error()))
		}
	}()

	if _, err := conn.ExecContext(ctx, "BEGIN "+string(mode)); err != nil {
		if isBusy(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	locked := false
	defer func() {
		p := recover()
		if !committed {
			// Rollback must run even when ctx is already cancelled.
			if _, rerr := conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); rerr != nil {
				d.logger.Error("failed to roll back transaction", slog.String("error", rerr.Error()))
			}
		}
		if locked {
			if uerr := d.lock.Unlock(); uerr != nil {
				d.logger.Error("failed to release file lock", slog.String("error", uerr.Error()))
			}
		}
		if p != nil {
			d.logger.Error("panic in transaction", slog.Any("panic", p))
			panic(p)
		}
	}()

	if err := d.lock.Lock(); err != nil {
		return false, err
	}
	locked = true

	if err := fn(ctx, conn); err != nil {
		return false, err
	}

	if err := d.commit(ctx, conn); err != nil {
		return false, err
	}
	committed = true
	return false, nil
}

// commit issues COMMIT, sleeping and retrying while the database is busy.
func (d *DB) commit(ctx context.Context, q store.DBTX) error {
	ctx = context.WithoutCancel(ctx)
	attempts := d.opts.CommitRetryCount
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		_, err := q.ExecContext(ctx, "COMMIT")
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		if attempt >= attempts {
			return fmt.Errorf("%w: %d attempts", store.ErrCommitBusy, attempt)
		}
		d.logger.Debug("database busy at commit, retrying",
			slog.Int("attempt", attempt))
		time.Sleep(d.opts.BusySleep)
	}
}

// withTx runs fn in a transaction, retrying a busy begin per the configured policy.
func (d *DB) withTx(ctx context.Context, mode store.TxMode, fn store.TxFn) error {
	return store.RunInTransaction(ctx, d, mode, store.BusyPolicy{
		Attempts: d.opts.BeginRetryCount,
		Sleep:    d.opts.BusySleep,
	}, fn)
}
