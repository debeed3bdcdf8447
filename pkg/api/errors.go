package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nulzo/inference-gateway/internal/inference"
)

const ValidationProblemType = "/problems/validation"

// Problem implements RFC 9457
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]any `json:"-"`

	Log error `json:"-"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

func (p *Problem) Unwrap() error {
	return p.Log
}

// MarshalJSON flattens extensions into the top-level object. Standard members win on collision.
func (p *Problem) MarshalJSON() ([]byte, error) {
	type alias Problem

	data := make(map[string]any, len(p.Extensions)+5)
	for k, v := range p.Extensions {
		data[k] = v
	}

	std, err := json.Marshal(alias(*p))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(std, &data); err != nil {
		return nil, err
	}
	return json.Marshal(data)
}

type ProblemOption func(*Problem)

// NewError creates a generic Problem
func NewError(status int, title, detail string, opts ...ProblemOption) *Problem {
	p := &Problem{
		Type:       "about:blank",
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: make(map[string]any),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithExtension adds a custom key-value pair to the response
func WithExtension(key string, value any) ProblemOption {
	return func(p *Problem) {
		p.Extensions[key] = value
	}
}

// WithLog attaches an internal error for server-side logging
func WithLog(err error) ProblemOption {
	return func(p *Problem) {
		p.Log = err
	}
}

func WithType(uri string) ProblemOption {
	return func(p *Problem) {
		p.Type = uri
	}
}

func WithInstance(path string) ProblemOption {
	return func(p *Problem) {
		p.Instance = path
	}
}

// ValidationError reports field-level binding failures under the "errors" extension.
func ValidationError(fieldErrors map[string]string) *Problem {
	return NewError(
		http.StatusBadRequest,
		"Validation Error",
		"One or more fields failed validation",
		WithType(ValidationProblemType),
		WithExtension("errors", fieldErrors),
	)
}

func BadRequestError(detail string, opts ...ProblemOption) *Problem {
	return NewError(http.StatusBadRequest, "Bad Request", detail, opts...)
}

func NotFoundError(detail string) *Problem {
	return NewError(http.StatusNotFound, "Not Found", detail)
}

func InternalError(detail string, err error) *Problem {
	return NewError(http.StatusInternalServerError, "Internal Server Error", detail, WithLog(err))
}

func RateLimitError(detail string) *Problem {
	return NewError(http.StatusTooManyRequests, "Too Many Requests", detail)
}

// StatusClientClosedRequest has no constant in net/http.
const StatusClientClosedRequest = 499

// FromError renders any error as a Problem. Domain errors keep their status and expose their kind
// as the "error_kind" extension; anything else becomes an opaque 500.
func FromError(err error) *Problem {
	var p *Problem
	if errors.As(err, &p) {
		return p
	}

	var ie *inference.Error
	if !errors.As(err, &ie) {
		return InternalError("An unexpected error occurred.", err)
	}

	status := ie.Kind.Status()
	opts := []ProblemOption{WithExtension("error_kind", string(ie.Kind))}
	if ie.UpstreamStatus > 0 {
		opts = append(opts, WithExtension("upstream_status", ie.UpstreamStatus))
	}
	if ie.Kind.ServerSide() {
		opts = append(opts, WithLog(err))
	}
	return NewError(status, statusTitle(status), ie.Message, opts...)
}

func statusTitle(status int) string {
	if status == StatusClientClosedRequest {
		return "Client Closed Request"
	}
	return http.StatusText(status)
}
