package task

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
)

// ManagerConfig holds configuration for the task manager.
type ManagerConfig struct {
	// MaxTaskCount caps how many tasks this process runs at once.
	MaxTaskCount int

	// PollInterval is the scheduler sleep when at capacity or idle.
	PollInterval time.Duration

	// RetryDelay keeps a task that failed recoverably out of this process's
	// scheduling for a while. Other processes may still pick it up.
	RetryDelay time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with reasonable defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxTaskCount: 1,
		PollInterval: time.Second,
		RetryDelay:   30 * time.Second,
	}
}

// waitPollInterval is the reconciliation period while draining running tasks.
const waitPollInterval = 10 * time.Millisecond

// Executor performs one kind of task. ctx is cancelled on force abort;
// graceful abort is observed through Host.AbortContext.
type Executor interface {
	Execute(ctx context.Context, t domain.Task, h Host) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t domain.Task, h Host) error

func (f ExecutorFunc) Execute(ctx context.Context, t domain.Task, h Host) error {
	return f(ctx, t, h)
}

// Host is the part of the manager visible to executors.
type Host interface {
	// AbortContext is cancelled on graceful abort. Executors stop starting
	// new sub-units of work when it is done.
	AbortContext() context.Context

	// DispatchTaskProgress publishes a task_progress event.
	DispatchTaskProgress(typ domain.TaskType, id int64, progress any)

	// UpdateTaskDetails persists new details for t and publishes task_updated.
	UpdateTaskDetails(ctx context.Context, t domain.Task) error

	// AddDownloadTask enqueues a download, returning an equivalent pending
	// task when one exists.
	AddDownloadTask(ctx context.Context, gid int64, token string, cfg *DownloadConfig) (domain.Task, error)
}

type runningTask struct {
	task domain.Task
	done chan struct{}
	err  error
}

// Manager schedules persisted tasks onto executors. Several processes may
// run managers against the same database; ownership of each task row is
// arbitrated by the Lease and the store's atomic SetTaskPID.
type Manager struct {
	store  store.TaskStore
	lease  Lease
	config ManagerConfig
	logger *slog.Logger
	bus    *eventBus

	abortCtx    context.Context
	abortCancel context.CancelFunc
	forceCtx    context.Context
	forceCancel context.CancelFunc

	mu         sync.Mutex
	executors  map[domain.TaskType]Executor
	running    map[int64]*runningTask
	details    map[int64]*Detail
	retryAfter map[int64]time.Time
	closed     bool
}

var _ Host = (*Manager)(nil)

// NewManager creates a manager over db. Zero config fields take their
// defaults. If db implements io.Closer it is closed by Close.
func NewManager(db store.TaskStore, lease Lease, config ManagerConfig, logger *slog.Logger) *Manager {
	def := DefaultManagerConfig()
	if config.MaxTaskCount <= 0 {
		config.MaxTaskCount = def.MaxTaskCount
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "task_manager", "pid", lease.Self())

	abortCtx, abortCancel := context.WithCancel(context.Background())
	forceCtx, forceCancel := context.WithCancel(context.Background())

	return &Manager{
		store:       db,
		lease:       lease,
		config:      config,
		logger:      logger,
		bus:         newEventBus(logger),
		abortCtx:    abortCtx,
		abortCancel: abortCancel,
		forceCtx:    forceCtx,
		forceCancel: forceCancel,
		executors:   make(map[domain.TaskType]Executor),
		running:     make(map[int64]*runningTask),
		details:     make(map[int64]*Detail),
		retryAfter:  make(map[int64]time.Time),
	}
}

// Register installs the executor for a task kind. Tasks of kinds without an
// executor are never claimed by this manager.
func (m *Manager) Register(typ domain.TaskType, e Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors[typ] = e
}

func (m *Manager) executor(typ domain.TaskType) (Executor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executors[typ]
	return e, ok
}

// Subscribe registers fn for every published event and returns a function
// that removes it again.
func (m *Manager) Subscribe(fn Subscriber) (unsubscribe func()) {
	return m.bus.subscribe(fn)
}

// publish updates the in-memory details and notifies subscribers.
func (m *Manager) publish(e Event) {
	id := e.TaskID
	if id == 0 {
		id = e.Task.ID
	}
	m.mu.Lock()
	d, ok := m.details[id]
	if !ok && e.Type != EventTaskProgress {
		d = &Detail{Base: domain.Task{ID: id, Type: e.TaskType}, Status: StatusWait}
		m.details[id] = d
		ok = true
	}
	if ok {
		d.Apply(e)
	}
	if e.Type == EventTaskFinished || (e.Type == EventTaskError && e.Fatal) {
		delete(m.details, id)
	}
	m.mu.Unlock()

	m.bus.publish(e)
}

// Abort requests graceful cancellation. Running executors finish what is
// safely in flight and the scheduler stops claiming tasks.
func (m *Manager) Abort() {
	m.logger.Info("abort requested")
	m.abortCancel()
}

// ForceAbort cancels in-flight work of every running executor.
func (m *Manager) ForceAbort() {
	m.logger.Info("force abort requested")
	m.abortCancel()
	m.forceCancel()
}

func (m *Manager) Aborted() bool {
	return m.abortCtx.Err() != nil
}

func (m *Manager) ForceAborted() bool {
	return m.forceCtx.Err() != nil
}

// AbortContext is done once Abort or ForceAbort is called.
func (m *Manager) AbortContext() context.Context {
	return m.abortCtx
}

// ForceAbortContext is done once ForceAbort is called.
func (m *Manager) ForceAbortContext() context.Context {
	return m.forceCtx
}

// DispatchTaskProgress publishes a task_progress event.
func (m *Manager) DispatchTaskProgress(typ domain.TaskType, id int64, progress any) {
	m.publish(Event{Type: EventTaskProgress, TaskID: id, TaskType: typ, Progress: progress})
}

// UpdateTaskDetails persists the details of t and publishes task_updated.
func (m *Manager) UpdateTaskDetails(ctx context.Context, t domain.Task) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := m.store.UpdateTask(ctx, t); err != nil {
		return fmt.Errorf("update task %d: %w", t.ID, err)
	}
	m.mu.Lock()
	if r, ok := m.running[t.ID]; ok {
		r.task = t
	}
	m.mu.Unlock()
	m.publish(Event{Type: EventTaskUpdated, Task: t, TaskID: t.ID, TaskType: t.Type})
	return nil
}

// Tasks returns every queued task overlaid with what this process knows
// about its status and progress.
func (m *Manager) Tasks(ctx context.Context) ([]Detail, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := m.store.GetTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Detail, 0, len(rows))
	for _, row := range rows {
		d := Detail{Base: row, Status: StatusWait}
		if known, ok := m.details[row.ID]; ok {
			d = *known
			d.Base = row
		}
		out = append(out, d)
	}
	return out, nil
}

// RunningCount returns the number of tasks executing in this process.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) isRunning(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

func (m *Manager) checkOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrAlreadyClosed
	}
	return nil
}

// Close releases the store. Running executors are force aborted; callers
// that want them to finish call Abort and WaitingUnfinishedTasks first.
// Closing twice only logs.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("task manager already closed")
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.abortCancel()
	m.forceCancel()
	if c, ok := m.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close task store: %w", err)
		}
	}
	return nil
}
