// Package task tracks in-flight streaming inference so it can be inspected and cancelled
// independently of the request that started it.
package task

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nulzo/inference-gateway/internal/inference"
	"go.uber.org/zap"
)

var (
	// ErrShutdown is the cancellation cause of tasks still live at Shutdown.
	ErrShutdown = errors.New("streaming task manager shut down")

	errFinished = errors.New("streaming task finished")
)

// Manager owns the table of live streaming tasks. All state transitions go through it.
type Manager struct {
	mu     sync.Mutex
	tasks  map[string]*Task
	closed bool

	log *zap.Logger
	now func() time.Time
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		tasks: make(map[string]*Task),
		log:   log,
		now:   time.Now,
	}
}

// Register adds a running task. The task's context derives from ctx. An empty id is replaced by a
// random one; an id that is already live is a defect and fails immediately.
func (m *Manager) Register(ctx context.Context, id string, meta Meta) (*Task, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, &inference.Error{Kind: inference.KindInternal, Message: "streaming task manager is shut down"}
	}
	if _, exists := m.tasks[id]; exists {
		err := inference.StreamingTaskDefect("Streaming task [%s] is already registered", id)
		m.log.Error("duplicate streaming task registration",
			zap.String("task_id", id),
			zap.String("inference_id", meta.InferenceID))
		return nil, err
	}

	taskCtx, cancel := context.WithCancelCause(ctx)
	t := &Task{
		ID:        id,
		Meta:      meta,
		StartedAt: m.now(),
		ctx:       taskCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.tasks[id] = t

	m.log.Debug("streaming task registered",
		zap.String("task_id", id),
		zap.String("inference_id", meta.InferenceID),
		zap.String("service", meta.Service))
	return t, nil
}

// Cancel signals cooperative cancellation. It returns false when the task is unknown, already
// terminal, or was already asked to cancel.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()

	if !ok || t.State() != StateRunning {
		return false
	}
	if !t.cancelRequested.CompareAndSwap(false, true) {
		return false
	}
	t.cancel(inference.CancelledError(id))
	m.log.Info("streaming task cancellation requested", zap.String("task_id", id))
	return true
}

// Complete moves a task to a terminal state and drops it from the live set. Completing an unknown
// or already terminal task is a defect: it is logged and reported, never applied.
func (m *Manager) Complete(id string, outcome Outcome) error {
	if !outcome.State.Terminal() {
		err := inference.StreamingTaskDefect("Streaming task [%s] completed with non-terminal state [%s]", id, outcome.State)
		m.log.Error("invalid streaming task completion", zap.String("task_id", id), zap.Error(err))
		return err
	}

	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok && !t.state.CompareAndSwap(int32(StateRunning), int32(outcome.State)) {
		ok = false
	}
	if ok {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	if !ok {
		err := inference.StreamingTaskDefect("Streaming task [%s] is not running and cannot be completed", id)
		m.log.Error("double completion of streaming task",
			zap.String("task_id", id),
			zap.Stringer("outcome", outcome.State),
			zap.Error(err))
		return err
	}

	t.err = outcome.Err
	t.finishedAt = m.now()
	t.cancel(errFinished)
	close(t.done)

	m.log.Debug("streaming task finished",
		zap.String("task_id", id),
		zap.Stringer("state", outcome.State),
		zap.Int64("chunks", t.Chunks()),
		zap.Duration("elapsed", t.finishedAt.Sub(t.StartedAt)))
	return nil
}

// Get returns a snapshot of a live task.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()

	if !ok {
		return Snapshot{}, inference.TaskNotFound(id)
	}
	return t.Snapshot(m.now()), nil
}

// List returns snapshots of every live task, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	now := m.now()
	out := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len is the number of live tasks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Shutdown rejects new registrations and cancels every live task. Tasks still complete through
// their owners.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		t.cancelRequested.Store(true)
		t.cancel(ErrShutdown)
	}
	if len(tasks) > 0 {
		m.log.Info("cancelled live streaming tasks", zap.Int("count", len(tasks)))
	}
}
