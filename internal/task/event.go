package task

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/phrazzld/eharchive/internal/domain"
)

// EventType names the kinds of events the manager publishes.
type EventType string

const (
	EventNewTask      EventType = "new_task"
	EventTaskStarted  EventType = "task_started"
	EventTaskFinished EventType = "task_finished"
	EventTaskProgress EventType = "task_progress"
	EventTaskError    EventType = "task_error"
	EventTaskUpdated  EventType = "task_updated"
)

// Event is a message published by the manager. Which fields are set depends
// on Type:
//   - new_task, task_started, task_finished, task_updated: Task
//   - task_progress: TaskID, TaskType and Progress
//   - task_error: TaskID, Error and Fatal
type Event struct {
	Type     EventType       `json:"type"`
	Task     domain.Task     `json:"task,omitempty"`
	TaskID   int64           `json:"task_id"`
	TaskType domain.TaskType `json:"task_type"`
	Progress any             `json:"progress,omitempty"`
	Error    string          `json:"error,omitempty"`
	Fatal    bool            `json:"fatal,omitempty"`
}

// Subscriber receives events synchronously on the publishing goroutine and
// must not block.
type Subscriber func(Event)

type eventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Subscriber
	logger *slog.Logger
}

func newEventBus(logger *slog.Logger) *eventBus {
	return &eventBus{subs: make(map[int]Subscriber), logger: logger}
}

func (b *eventBus) subscribe(fn Subscriber) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *eventBus) publish(e Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(fn, e)
	}
}

func (b *eventBus) deliver(fn Subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				"event_type", e.Type,
				"panic", r)
		}
	}()
	fn(e)
}
