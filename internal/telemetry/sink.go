// Package telemetry records the outcome of every dispatched inference request.
package telemetry

import (
	"context"
	"time"

	"github.com/nulzo/inference-gateway/internal/inference"
)

// OutcomeSuccess labels requests that finished without error.
const OutcomeSuccess = "success"

// Record is emitted once per request at its terminal point.
type Record struct {
	RequestID   string
	InferenceID string
	Service     string
	TaskType    inference.TaskType
	Streamed    bool
	TaskID      string

	// Kind is empty on success.
	Kind   inference.Kind
	Status int

	Inputs  int
	Chunks  int
	Latency time.Duration
	// TTFT is the time to the first streamed chunk; zero when none was delivered.
	TTFT time.Duration

	ClientIP  string
	UserAgent string
	At        time.Time
}

// Outcome is "success" or the error kind.
func (r Record) Outcome() string {
	if r.Kind == "" {
		return OutcomeSuccess
	}
	return string(r.Kind)
}

// Sink observes request outcomes. Implementations must not block the caller for long.
type Sink interface {
	Record(ctx context.Context, rec Record)
}

// Multi fans a record out to several sinks in order.
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec Record) {
	for _, s := range m {
		s.Record(ctx, rec)
	}
}

type Nop struct{}

func (Nop) Record(context.Context, Record) {}

type clientInfoKey struct{}

// ClientInfo identifies the caller of a request.
type ClientInfo struct {
	IP        string
	UserAgent string
	RequestID string
}

// WithClientInfo attaches caller details that end up on the Record.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

func ClientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}
