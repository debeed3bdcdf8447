package model

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nulzo/inference-gateway/internal/inference"
)

// Endpoint is the persisted form of an inference endpoint.
type Endpoint struct {
	InferenceID         string    `db:"inference_id" json:"inference_id"`
	Service             string    `db:"service" json:"service"`
	TaskType            string    `db:"task_type" json:"task_type"`
	ServiceSettingsJSON string    `db:"service_settings_json" json:"-"`
	TaskSettingsJSON    string    `db:"task_settings_json" json:"-"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// NewEndpoint serializes an endpoint configuration for storage.
func NewEndpoint(m inference.UnparsedModel) (*Endpoint, error) {
	svc, err := encodeSettings(m.ServiceSettings)
	if err != nil {
		return nil, fmt.Errorf("service_settings: %w", err)
	}
	task, err := encodeSettings(m.TaskSettings)
	if err != nil {
		return nil, fmt.Errorf("task_settings: %w", err)
	}
	return &Endpoint{
		InferenceID:         m.InferenceID,
		Service:             m.Service,
		TaskType:            string(m.TaskType),
		ServiceSettingsJSON: svc,
		TaskSettingsJSON:    task,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}, nil
}

// Unparsed decodes the stored row back into an endpoint configuration.
func (e *Endpoint) Unparsed() (inference.UnparsedModel, error) {
	m := inference.UnparsedModel{
		InferenceID: e.InferenceID,
		Service:     e.Service,
		TaskType:    inference.TaskType(e.TaskType),
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if err := decodeSettings(e.ServiceSettingsJSON, &m.ServiceSettings); err != nil {
		return m, fmt.Errorf("endpoint %s service_settings: %w", e.InferenceID, err)
	}
	if err := decodeSettings(e.TaskSettingsJSON, &m.TaskSettings); err != nil {
		return m, fmt.Errorf("endpoint %s task_settings: %w", e.InferenceID, err)
	}
	return m, nil
}

func encodeSettings(s map[string]any) (string, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func decodeSettings(raw string, dest *map[string]any) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// Connector is a registered data connector. Listing them is paginated.
type Connector struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	IndexName   string    `db:"index_name" json:"index_name"`
	ServiceType string    `db:"service_type" json:"service_type"`
	Status      string    `db:"status" json:"status"`
	Description string    `db:"description" json:"description,omitempty"`
	IsNative    bool      `db:"is_native" json:"is_native"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// RequestLog captures the outcome of one dispatched inference request.
type RequestLog struct {
	ID          string        `db:"id" json:"id"`
	InferenceID string        `db:"inference_id" json:"inference_id"`
	Service     string        `db:"service" json:"service"`
	TaskType    string        `db:"task_type" json:"task_type"`
	Outcome     string        `db:"outcome" json:"outcome"`
	ErrorKind   string        `db:"error_kind" json:"error_kind,omitempty"`
	StatusCode  int           `db:"status_code" json:"status_code"`
	InputCount  int           `db:"input_count" json:"input_count"`
	ChunkCount  int           `db:"chunk_count" json:"chunk_count"`
	LatencyMS   int64         `db:"latency_ms" json:"latency_ms"`
	TTFTMS      sql.NullInt64 `db:"ttft_ms" json:"ttft_ms,omitempty"`
	IsStreamed  bool          `db:"is_streamed" json:"is_streamed"`
	TaskID      string        `db:"task_id" json:"task_id,omitempty"`
	IPAddress   string        `db:"ip_address" json:"ip_address"`
	UserAgent   string        `db:"user_agent" json:"user_agent"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// DailyStats represents aggregated usage data for a specific day.
type DailyStats struct {
	Date             string  `db:"date" json:"date"`
	TotalRequests    int     `db:"total_requests" json:"total_requests"`
	ErrorCount       int     `db:"error_count" json:"error_count"`
	StreamedRequests int     `db:"streamed_requests" json:"streamed_requests"`
	TotalChunks      int     `db:"total_chunks" json:"total_chunks"`
	AverageLatency   float64 `db:"avg_latency" json:"avg_latency"`
}
