package executor

import (
	"sync"
	"time"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/task"
)

// progressInterval is the minimum time between two progress events of a task.
const progressInterval = 200 * time.Millisecond

// reporter holds the progress of one task and dispatches it to the host at
// most once per interval. Flush sends what is still pending, including the
// initial value.
type reporter[T any] struct {
	host     task.Host
	typ      domain.TaskType
	id       int64
	interval time.Duration
	clone    func(T) T

	mu    sync.Mutex
	value T
	last  time.Time
	dirty bool
}

func newReporter[T any](h task.Host, t domain.Task, initial T) *reporter[T] {
	return &reporter[T]{
		host:     h,
		typ:      t.Type,
		id:       t.ID,
		interval: progressInterval,
		value:    initial,
		dirty:    true,
	}
}

// Update applies fn to the progress and dispatches it when the interval
// has passed since the last dispatch.
func (r *reporter[T]) Update(fn func(p *T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.value)
	r.dirty = true
	if time.Since(r.last) >= r.interval {
		r.send()
	}
}

// Flush dispatches pending progress regardless of the interval.
func (r *reporter[T]) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dirty {
		r.send()
	}
}

// Snapshot returns a copy of the current progress.
func (r *reporter[T]) Snapshot() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyValue()
}

func (r *reporter[T]) copyValue() T {
	if r.clone != nil {
		return r.clone(r.value)
	}
	return r.value
}

func (r *reporter[T]) send() {
	r.host.DispatchTaskProgress(r.typ, r.id, r.copyValue())
	r.last = time.Now()
	r.dirty = false
}
