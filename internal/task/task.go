package task

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nulzo/inference-gateway/internal/inference"
)

// State is the lifecycle state of a streaming task.
type State int32

const (
	StateRunning State = iota
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Outcome is the terminal transition requested through Manager.Complete.
type Outcome struct {
	State State
	Err   error
}

func Completed() Outcome { return Outcome{State: StateCompleted} }
func Failed(err error) Outcome { return Outcome{State: StateFailed, Err: err} }
func Cancelled(err error) Outcome { return Outcome{State: StateCancelled, Err: err} }

// Meta describes what a task is streaming.
type Meta struct {
	InferenceID string
	Service     string
	TaskType    inference.TaskType
}

// Task is the handle of one in-flight streaming inference. It stays readable after the manager
// has dropped it.
type Task struct {
	ID        string
	Meta      Meta
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	state           atomic.Int32
	cancelRequested atomic.Bool
	chunks          atomic.Int64

	done       chan struct{}
	err        error
	finishedAt time.Time
}

// Context is cancelled when the task is cancelled, completed, or the owning request goes away.
func (t *Task) Context() context.Context { return t.ctx }

func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the error the task finished with. Only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// CancelRequested reports whether Cancel or Shutdown signalled this task.
func (t *Task) CancelRequested() bool { return t.cancelRequested.Load() }

// RecordChunk counts a chunk delivered to the consumer.
func (t *Task) RecordChunk() { t.chunks.Add(1) }

func (t *Task) Chunks() int64 { return t.chunks.Load() }

// Snapshot is a read-only view for administrative listing.
type Snapshot struct {
	ID              string             `json:"id"`
	InferenceID     string             `json:"inference_id"`
	Service         string             `json:"service"`
	TaskType        inference.TaskType `json:"task_type"`
	State           State              `json:"state"`
	StartedAt       time.Time          `json:"started_at"`
	RunningTimeMS   int64              `json:"running_time_ms"`
	Chunks          int64              `json:"chunks"`
	CancelRequested bool               `json:"cancel_requested"`
}

func (t *Task) Snapshot(now time.Time) Snapshot {
	end := now
	select {
	case <-t.done:
		end = t.finishedAt
	default:
	}
	return Snapshot{
		ID:              t.ID,
		InferenceID:     t.Meta.InferenceID,
		Service:         t.Meta.Service,
		TaskType:        t.Meta.TaskType,
		State:           t.State(),
		StartedAt:       t.StartedAt,
		RunningTimeMS:   end.Sub(t.StartedAt).Milliseconds(),
		Chunks:          t.Chunks(),
		CancelRequested: t.CancelRequested(),
	}
}
