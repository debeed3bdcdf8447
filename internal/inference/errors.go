package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every error surfaced by the dispatch path.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindEndpointNotFound    Kind = "endpoint_not_found"
	KindServiceUnavailable  Kind = "service_unavailable"
	KindTaskTypeMismatch    Kind = "task_type_mismatch"
	KindBackendInference    Kind = "backend_inference"
	KindTimeout             Kind = "timeout"
	KindStreamingTaskDefect Kind = "streaming_task_defect"
	KindCancelled           Kind = "cancelled"
	KindTaskNotFound        Kind = "task_not_found"
	KindInternal            Kind = "internal"
)

// StatusClientClosedRequest is the non-standard status used for cancelled requests.
const StatusClientClosedRequest = 499

// Status maps a kind onto the HTTP status reported to callers.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindTaskTypeMismatch:
		return http.StatusBadRequest
	case KindEndpointNotFound, KindTaskNotFound:
		return http.StatusNotFound
	case KindBackendInference:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusRequestTimeout
	case KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// ServerSide is true for kinds that indicate a defect on our side rather than a bad request.
func (k Kind) ServerSide() bool {
	return k.Status() >= http.StatusInternalServerError && k != KindBackendInference
}

type Error struct {
	Kind    Kind
	Message string

	// UpstreamStatus is set for backend errors that carried an HTTP status.
	UpstreamStatus int

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so errors.Is(err, &Error{Kind: KindTimeout}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func ValidationError(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func EndpointNotFound(inferenceID string) *Error {
	return newError(KindEndpointNotFound, nil, "Inference endpoint not found [%s]", inferenceID)
}

func ServiceUnavailable(inferenceID, service string, err error) *Error {
	if err != nil {
		return newError(KindServiceUnavailable, err,
			"Inference endpoint [%s] references service [%s] which could not be loaded: %v", inferenceID, service, err)
	}
	return newError(KindServiceUnavailable, nil,
		"Inference endpoint [%s] references unknown service [%s]", inferenceID, service)
}

func TaskTypeMismatch(explanation string) *Error {
	return newError(KindTaskTypeMismatch, nil, "%s", explanation)
}

func TimeoutError(timeout fmt.Stringer) *Error {
	return newError(KindTimeout, context.DeadlineExceeded, "Request timed out after [%s]", timeout)
}

func CancelledError(taskID string) *Error {
	return newError(KindCancelled, context.Canceled, "Streaming task [%s] was cancelled", taskID)
}

func StreamingTaskDefect(format string, args ...any) *Error {
	return newError(KindStreamingTaskDefect, nil, format, args...)
}

func TaskNotFound(taskID string) *Error {
	return newError(KindTaskNotFound, nil, "Streaming task not found [%s]", taskID)
}

// BackendError maps an arbitrary backend failure into the backend_inference kind. Errors that
// already carry a kind are returned unchanged.
func BackendError(service string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{
		Kind:    KindBackendInference,
		Message: fmt.Sprintf("Service [%s] failed to perform inference: %v", service, err),
		Err:     err,
	}
}

// UpstreamFailure builds a backend_inference error from an HTTP upstream response.
func UpstreamFailure(status int, message string, err error) *Error {
	return &Error{
		Kind:           KindBackendInference,
		Message:        message,
		UpstreamStatus: status,
		Err:            err,
	}
}
