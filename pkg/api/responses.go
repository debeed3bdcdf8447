package api

import "github.com/nulzo/inference-gateway/internal/task"

// ListResponse is the envelope of every list endpoint except connectors.
type ListResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

func List[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Object: "list", Data: items}
}

type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	TaskID    string `json:"task_id"`
}

type TaskResponse = task.Snapshot

type DeleteResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

type HealthResponse struct {
	Status        string   `json:"status"`
	Uptime        string   `json:"uptime"`
	Time          string   `json:"time"`
	Services      []string `json:"services"`
	ActiveStreams int      `json:"active_streams"`

	// Checks is only filled for deep checks: service id to "ok" or the probe error.
	Checks map[string]string `json:"checks,omitempty"`
}

// StreamError is written as the data of an SSE "error" event before the stream terminates.
type StreamError struct {
	Error *Problem `json:"error"`
}
