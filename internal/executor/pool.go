package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/eharchive/internal/task"
)

// poolPollInterval is how often a full pool is checked for a free slot.
const poolPollInterval = 10 * time.Millisecond

// PagePool runs the per-page units of one task. At most limit units run at
// once and each unit is attempted up to maxRetry+1 times without delay.
//
// Units run under ctx, which the manager cancels on force abort. Once abort
// is done no new unit is scheduled, but running units finish.
type PagePool struct {
	ctx      context.Context
	abort    context.Context
	attempts uint
	logger   *slog.Logger
	group    errgroup.Group

	mu        sync.Mutex
	succeeded int
	failed    int
	onDone    func(err error)
}

// NewPagePool creates a pool. onDone, when set, is called after every unit
// with its final error.
func NewPagePool(ctx, abort context.Context, limit, maxRetry int, logger *slog.Logger, onDone func(err error)) *PagePool {
	if limit <= 0 {
		limit = 1
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	p := &PagePool{
		ctx:      ctx,
		abort:    abort,
		attempts: uint(maxRetry + 1),
		logger:   logger,
		onDone:   onDone,
	}
	p.group.SetLimit(limit)
	return p
}

// Go schedules fn, waiting while the pool is full. It returns false without
// scheduling once the task is aborting.
func (p *PagePool) Go(name string, fn func(ctx context.Context) error) bool {
	for {
		if p.stopped() {
			return false
		}
		if p.group.TryGo(func() error {
			p.run(name, fn)
			return nil
		}) {
			return true
		}

		timer := time.NewTimer(poolPollInterval)
		select {
		case <-p.abort.Done():
		case <-p.ctx.Done():
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (p *PagePool) stopped() bool {
	return p.abort.Err() != nil || p.ctx.Err() != nil
}

func (p *PagePool) run(name string, fn func(ctx context.Context) error) {
	err := retry.Do(
		func() error { return fn(p.ctx) },
		retry.Attempts(p.attempts),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.Context(p.ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Debug("retrying page", "page", name, "attempt", n+1, "error", err)
		}),
	)

	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.succeeded++
	}
	p.mu.Unlock()

	if err != nil && p.ctx.Err() == nil {
		p.logger.Warn("page failed", "page", name, "error", err)
	}
	if p.onDone != nil {
		p.onDone(err)
	}
}

// Wait blocks until every scheduled unit has finished.
func (p *PagePool) Wait() {
	_ = p.group.Wait()
}

// Failed returns the number of units that failed after all attempts.
func (p *PagePool) Failed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failed
}

// Succeeded returns the number of units that completed.
func (p *PagePool) Succeeded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succeeded
}

// Err summarizes the pool after Wait: a recoverable error when some units
// failed, ErrAborted when scheduling stopped on abort, nil otherwise.
func (p *PagePool) Err() error {
	if n := p.Failed(); n > 0 {
		return task.Recoverablef("%d pages failed", n)
	}
	if p.stopped() {
		return ErrAborted
	}
	return nil
}
