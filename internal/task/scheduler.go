package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/phrazzld/eharchive/internal/domain"
)

// Run is the scheduling loop. Each pass reconciles finished executions,
// claims queued tasks up to MaxTaskCount (this process's own backlog first)
// and then sleeps. Without forever, Run returns once nothing is running
// after a pass. On abort or ctx cancellation it stops claiming and waits for
// running tasks before returning.
func (m *Manager) Run(ctx context.Context, forever bool) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.logger.Info("scheduler started", "forever", forever, "max_task_count", m.config.MaxTaskCount)

	for {
		if err := m.checkOpen(); err != nil {
			return err
		}
		m.checkRunningTasks(ctx)

		if ctx.Err() != nil && !m.Aborted() {
			m.Abort()
		}
		if m.Aborted() {
			break
		}

		if m.RunningCount() < m.config.MaxTaskCount {
			if err := m.fill(ctx); err != nil {
				m.logger.Warn("scheduling pass failed", "error", err)
			}
		}

		if !forever && m.RunningCount() == 0 {
			m.logger.Info("no tasks left, scheduler stopping")
			return nil
		}
		m.sleep(m.config.PollInterval)
	}

	if err := m.WaitingUnfinishedTasks(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	m.logger.Info("scheduler stopped after abort")
	return nil
}

// sleep waits d, returning early on abort.
func (m *Manager) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-m.abortCtx.Done():
	}
}

// fill claims and starts queued tasks until the concurrency cap is reached.
func (m *Manager) fill(ctx context.Context) error {
	self := m.lease.Self()

	local, err := m.store.GetTasksByPID(ctx, self)
	if err != nil {
		return fmt.Errorf("list own tasks: %w", err)
	}
	if done, err := m.startEligible(ctx, local); done || err != nil {
		return err
	}

	others, err := m.store.GetOtherPIDTasks(ctx, self)
	if err != nil {
		return fmt.Errorf("list other tasks: %w", err)
	}
	_, err = m.startEligible(ctx, others)
	return err
}

// startEligible runs checkTask over tasks in order and reports whether the
// cap was reached or the manager aborted.
func (m *Manager) startEligible(ctx context.Context, tasks []domain.Task) (bool, error) {
	var errs []error
	for _, t := range tasks {
		if m.Aborted() || m.RunningCount() >= m.config.MaxTaskCount {
			return true, errors.Join(errs...)
		}
		if _, err := m.checkTask(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return false, errors.Join(errs...)
}

// checkTask claims t for this process and starts it when it is eligible.
// Losing a claim race is not an error.
func (m *Manager) checkTask(ctx context.Context, t domain.Task) (bool, error) {
	if m.isRunning(t.ID) {
		return false, nil
	}
	if _, ok := m.executor(t.Type); !ok {
		return false, nil
	}
	if m.retryPending(t.ID) {
		return false, nil
	}
	self := m.lease.Self()

	if t.Type.IsOnetime() {
		ok, err := m.onetimeEligible(ctx, t)
		if err != nil || !ok {
			return false, err
		}
	}

	if t.PID != self {
		alive, err := m.lease.Alive(ctx, t.PID)
		if err != nil {
			return false, fmt.Errorf("check owner of task %d: %w", t.ID, err)
		}
		if alive {
			return false, nil
		}
	}

	claimed, ok, err := m.store.SetTaskPID(ctx, t, self)
	if err != nil {
		return false, fmt.Errorf("claim task %d: %w", t.ID, err)
	}
	if !ok {
		m.logger.Debug("task claimed by another process", "task_id", t.ID)
		return false, nil
	}
	if t.PID != self {
		m.logger.Info("took over task of dead process",
			"task_id", t.ID,
			"task_type", t.Type.String(),
			"previous_pid", t.PID)
	}

	if err := m.runTask(ctx, claimed); err != nil {
		return false, err
	}
	return true, nil
}

// onetimeEligible reports whether the one-shot task t is the one allowed to
// run now. Only the oldest queued one-shot task is eligible, and a foreign
// one waits while this process still has its own backlog.
func (m *Manager) onetimeEligible(ctx context.Context, t domain.Task) (bool, error) {
	first, err := m.store.CheckOnetimeTask(ctx)
	if err != nil {
		return false, fmt.Errorf("check one-shot tasks: %w", err)
	}
	if first == nil || first.ID != t.ID {
		return false, nil
	}
	if t.PID == m.lease.Self() {
		return true, nil
	}
	local, err := m.store.GetTasksByPID(ctx, m.lease.Self())
	if err != nil {
		return false, fmt.Errorf("list own tasks: %w", err)
	}
	return len(local) == 0, nil
}

func (m *Manager) retryPending(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.retryAfter[id]
	if !ok {
		return false
	}
	if time.Now().Before(until) {
		return true
	}
	delete(m.retryAfter, id)
	return false
}

// runTask starts the executor of t on its own goroutine. One-shot kinds wait
// for every other running task to finish first.
func (m *Manager) runTask(ctx context.Context, t domain.Task) error {
	exec, ok := m.executor(t.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoExecutor, t.Type)
	}
	if t.Type.IsOnetime() {
		if err := m.WaitingUnfinishedTasks(ctx); err != nil {
			return err
		}
	}

	r := &runningTask{task: t, done: make(chan struct{})}
	m.mu.Lock()
	m.running[t.ID] = r
	m.mu.Unlock()

	log := m.logger.With("task_id", t.ID, "task_type", t.Type.String())
	log.Info("task started", "gid", t.GID)
	m.publish(Event{Type: EventTaskStarted, Task: t, TaskID: t.ID, TaskType: t.Type})

	go func() {
		defer close(r.done)
		defer func() {
			if p := recover(); p != nil {
				log.Error("executor panicked", "panic", p, "stack", string(debug.Stack()))
				r.err = fmt.Errorf("executor panic: %v", p)
			}
		}()
		r.err = exec.Execute(m.forceCtx, t, m)
	}()
	return nil
}

// checkRunningTasks reconciles completed executions without blocking on the
// ones still in progress.
func (m *Manager) checkRunningTasks(ctx context.Context) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)

	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		m.mu.Lock()
		r := m.running[id]
		m.mu.Unlock()

		select {
		case <-r.done:
		default:
			continue
		}

		m.mu.Lock()
		delete(m.running, id)
		m.mu.Unlock()
		m.reconcile(ctx, r)
	}
}

func (m *Manager) reconcile(ctx context.Context, r *runningTask) {
	t := r.task
	log := m.logger.With("task_id", t.ID, "task_type", t.Type.String())

	if r.err == nil {
		if err := m.store.DeleteTask(ctx, t.ID); err != nil {
			log.Error("failed to delete finished task", "error", err)
		}
		log.Info("task finished")
		m.publish(Event{Type: EventTaskFinished, Task: t, TaskID: t.ID, TaskType: t.Type})
		return
	}

	if m.Aborted() {
		log.Info("task stopped by abort", "error", r.err)
		m.mu.Lock()
		if d, ok := m.details[t.ID]; ok {
			d.Status = StatusWait
		}
		m.mu.Unlock()
		return
	}

	fatal := !IsRecoverable(r.err)
	log.Error("task failed", "error", r.err, "fatal", fatal)
	if fatal {
		if err := m.store.DeleteTask(ctx, t.ID); err != nil {
			log.Error("failed to delete failed task", "error", err)
		}
	} else {
		m.mu.Lock()
		m.retryAfter[t.ID] = time.Now().Add(m.config.RetryDelay)
		m.mu.Unlock()
	}
	m.publish(Event{
		Type:     EventTaskError,
		Task:     t,
		TaskID:   t.ID,
		TaskType: t.Type,
		Error:    r.err.Error(),
		Fatal:    fatal,
	})
}

// WaitingUnfinishedTasks reconciles until no task is running in this
// process. It returns early only when ctx is done.
func (m *Manager) WaitingUnfinishedTasks(ctx context.Context) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		m.checkRunningTasks(ctx)
		if m.RunningCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
