package backend

import (
	"context"
	"fmt"
	"slices"

	"github.com/nulzo/inference-gateway/internal/inference"
)

// Service is a live backend capable of performing inference for one or more task types.
type Service interface {
	// Name is the service identifier endpoints refer to.
	Name() string
	// Type is the adapter kind, e.g. "openai".
	Type() string
	SupportedTaskTypes() []inference.TaskType
	// Parse builds the typed model for an endpoint configured against this service.
	Parse(config inference.UnparsedModel) (inference.Model, error)
	Infer(ctx context.Context, model inference.Model, req *inference.Request) (inference.Results, error)
}

// Streamer is implemented by services that can produce chunked results. The returned channel is
// closed by the producer once the stream ends; at most one event carries an error and it is the
// last one. Producers must stop when ctx is done.
type Streamer interface {
	SupportsStreaming(taskType inference.TaskType) bool
	Stream(ctx context.Context, model inference.Model, req *inference.Request) (<-chan inference.StreamEvent, error)
}

// TaskTypePolicy lets a service replace the default exact-match compatibility rule.
type TaskTypePolicy interface {
	AcceptsTaskType(model inference.Model, requested inference.TaskType) bool
	// ExplainIncompatibility returns "" to fall back to the default explanation.
	ExplainIncompatibility(model inference.Model, requested inference.TaskType) string
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

// Supports reports whether svc lists taskType among its supported task types.
func Supports(svc Service, taskType inference.TaskType) bool {
	return slices.Contains(svc.SupportedTaskTypes(), taskType)
}

// CanStream reports whether svc can stream results for taskType.
func CanStream(svc Service, taskType inference.TaskType) (Streamer, bool) {
	s, ok := svc.(Streamer)
	if !ok || !s.SupportsStreaming(taskType) {
		return nil, false
	}
	return s, true
}

// ParseBase validates the parts of an endpoint every service agrees on.
func ParseBase(svc Service, config inference.UnparsedModel) error {
	if config.Service != svc.Name() {
		return fmt.Errorf("endpoint [%s] belongs to service [%s], not [%s]", config.InferenceID, config.Service, svc.Name())
	}
	if !config.TaskType.IsConcrete() {
		return fmt.Errorf("endpoint [%s] has invalid task type [%s]", config.InferenceID, config.TaskType)
	}
	if !Supports(svc, config.TaskType) {
		return fmt.Errorf("service [%s] does not support task type [%s]", svc.Name(), config.TaskType)
	}
	return nil
}
