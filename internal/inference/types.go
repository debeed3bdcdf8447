package inference

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskType is the category of inference an endpoint performs.
type TaskType string

const (
	TaskCompletion      TaskType = "completion"
	TaskChatCompletion  TaskType = "chat_completion"
	TaskTextEmbedding   TaskType = "text_embedding"
	TaskSparseEmbedding TaskType = "sparse_embedding"
	TaskRerank          TaskType = "rerank"

	// TaskAny is only valid on requests; it matches whatever the endpoint is configured for.
	TaskAny TaskType = "any"
)

var taskTypes = []TaskType{
	TaskCompletion,
	TaskChatCompletion,
	TaskTextEmbedding,
	TaskSparseEmbedding,
	TaskRerank,
	TaskAny,
}

// ParseTaskType is case-insensitive. An empty string parses to TaskAny.
func ParseTaskType(s string) (TaskType, error) {
	if s == "" {
		return TaskAny, nil
	}
	for _, t := range taskTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type [%s]", s)
}

// IsAnyOrSame reports whether a request for t may be served by an endpoint configured as other.
func (t TaskType) IsAnyOrSame(other TaskType) bool {
	return t == TaskAny || t == other
}

// IsConcrete is false for TaskAny and unknown values.
func (t TaskType) IsConcrete() bool {
	return t != TaskAny && t.valid()
}

func (t TaskType) valid() bool {
	for _, tt := range taskTypes {
		if tt == t {
			return true
		}
	}
	return false
}

// InputType hints to the backend how the input will be used.
type InputType string

const (
	InputUnspecified    InputType = "unspecified"
	InputIngest         InputType = "ingest"
	InputSearch         InputType = "search"
	InputClassification InputType = "classification"
	InputClustering     InputType = "clustering"
)

func ParseInputType(s string) (InputType, error) {
	if s == "" {
		return InputUnspecified, nil
	}
	for _, it := range []InputType{InputUnspecified, InputIngest, InputSearch, InputClassification, InputClustering} {
		if strings.EqualFold(s, string(it)) {
			return it, nil
		}
	}
	return "", fmt.Errorf("unknown input type [%s]", s)
}

// Input is one item of the ordered input sequence: plain text or a list of content parts.
type Input struct {
	Text  string
	Parts []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextInput wraps plain strings.
func TextInput(values ...string) []Input {
	out := make([]Input, 0, len(values))
	for _, v := range values {
		out = append(out, Input{Text: v})
	}
	return out
}

// String flattens the input to text, joining text parts with a space.
func (i Input) String() string {
	if i.Parts == nil {
		return i.Text
	}
	texts := make([]string, 0, len(i.Parts))
	for _, p := range i.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, " ")
}

func (i *Input) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		return json.Unmarshal(data, &i.Text)
	case '[':
		return json.Unmarshal(data, &i.Parts)
	case '{':
		var part ContentPart
		if err := json.Unmarshal(data, &part); err != nil {
			return err
		}
		i.Parts = []ContentPart{part}
		return nil
	}
	return fmt.Errorf("input must be a string or content parts")
}

func (i Input) MarshalJSON() ([]byte, error) {
	if i.Parts != nil {
		return json.Marshal(i.Parts)
	}
	return json.Marshal(i.Text)
}

// UnparsedModel is the persisted configuration of an inference endpoint.
type UnparsedModel struct {
	InferenceID     string         `json:"inference_id" yaml:"inference_id" mapstructure:"inference_id"`
	Service         string         `json:"service" yaml:"service" mapstructure:"service"`
	TaskType        TaskType       `json:"task_type" yaml:"task_type" mapstructure:"task_type"`
	ServiceSettings map[string]any `json:"service_settings,omitempty" yaml:"service_settings" mapstructure:"service_settings"`
	TaskSettings    map[string]any `json:"task_settings,omitempty" yaml:"task_settings" mapstructure:"task_settings"`
	CreatedAt       time.Time      `json:"created_at,omitempty" yaml:"-" mapstructure:"-"`
	UpdatedAt       time.Time      `json:"updated_at,omitempty" yaml:"-" mapstructure:"-"`
}

// Model is an UnparsedModel paired with the settings its service parsed out of it.
type Model struct {
	UnparsedModel

	// Settings is owned by the backend that produced the Model.
	Settings any
}

// Request is a single inference call against an endpoint.
type Request struct {
	InferenceID  string
	TaskType     TaskType
	Query        *string
	Input        []Input
	Stream       bool
	TaskSettings map[string]any
	InputType    InputType
	Timeout      time.Duration
}

// InputStrings flattens every input item to text.
func (r *Request) InputStrings() []string {
	out := make([]string, 0, len(r.Input))
	for _, in := range r.Input {
		out = append(out, in.String())
	}
	return out
}

// MergeSettings overlays override on base without mutating either.
func MergeSettings(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
