package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrStopStream may be returned by a LineProcessor to end a stream early.
var ErrStopStream = errors.New("stop stream")

// UpstreamError represents an error returned by an upstream service
type UpstreamError struct {
	StatusCode int
	Body       []byte
	URL        string
}

func (e *UpstreamError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("upstream error: status %d from %s: %s", e.StatusCode, e.URL, msg)
	}
	return fmt.Sprintf("upstream error: status %d from %s", e.StatusCode, e.URL)
}

// Message extracts a human readable message from the upstream body. It understands the
// {"error":{"message":..}} and {"error":".."} shapes and falls back to the raw body.
func (e *UpstreamError) Message() string {
	if len(e.Body) == 0 {
		return ""
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(e.Body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}

	return strings.TrimSpace(string(e.Body))
}
