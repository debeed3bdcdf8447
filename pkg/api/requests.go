package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nulzo/inference-gateway/internal/inference"
)

// InferenceRequest is the body of POST /v1/inference/...
type InferenceRequest struct {
	Query *string `json:"query,omitempty"`

	// a single string or an array of strings / content parts
	Input Inputs `json:"input"`

	TaskSettings map[string]any `json:"task_settings,omitempty"`
	InputType    string         `json:"input_type,omitempty" binding:"omitempty,oneof=unspecified ingest search classification clustering"`
	Timeout      Duration       `json:"timeout,omitempty"`
	Stream       bool           `json:"stream,omitempty"`
}

// ToDomain builds the dispatch request for the endpoint addressed by the URL.
func (r *InferenceRequest) ToDomain(inferenceID, taskType string, stream bool) *inference.Request {
	return &inference.Request{
		InferenceID:  inferenceID,
		TaskType:     inference.TaskType(taskType),
		Query:        r.Query,
		Input:        r.Input,
		Stream:       r.Stream || stream,
		TaskSettings: r.TaskSettings,
		InputType:    inference.InputType(r.InputType),
		Timeout:      time.Duration(r.Timeout),
	}
}

type Inputs []inference.Input

func (in *Inputs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*in = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*in = Inputs{{Text: s}}
		return nil
	}
	var items []inference.Input
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*in = items
	return nil
}

// Duration accepts a Go duration string ("30s") or a number of milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid timeout [%s]: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timeout [%s]: %w", data, err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// EndpointRequest is the body of PUT /v1/endpoints/:inference_id.
type EndpointRequest struct {
	Service         string         `json:"service" binding:"required"`
	TaskType        string         `json:"task_type" binding:"required,oneof=completion chat_completion text_embedding sparse_embedding rerank"`
	ServiceSettings map[string]any `json:"service_settings,omitempty"`
	TaskSettings    map[string]any `json:"task_settings,omitempty"`
}

func (r *EndpointRequest) ToDomain(inferenceID string) inference.UnparsedModel {
	return inference.UnparsedModel{
		InferenceID:     inferenceID,
		Service:         r.Service,
		TaskType:        inference.TaskType(r.TaskType),
		ServiceSettings: r.ServiceSettings,
		TaskSettings:    r.TaskSettings,
	}
}
