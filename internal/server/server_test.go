package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/analytics"
	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/backend/echo"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/connector"
	"github.com/nulzo/inference-gateway/internal/gateway"
	"github.com/nulzo/inference-gateway/internal/registry"
	"github.com/nulzo/inference-gateway/internal/store/cache"
	"github.com/nulzo/inference-gateway/internal/store/model"
	"github.com/nulzo/inference-gateway/internal/store/sqlite"
	"github.com/nulzo/inference-gateway/internal/task"
	"github.com/nulzo/inference-gateway/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type testEnv struct {
	url        string
	connectors *connector.Service
	tasks      *task.Manager
	level      zap.AtomicLevel
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	repo, err := sqlite.NewSQLiteStorage(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	echoSvc, err := echo.NewService(config.ServiceConfig{ID: "echo1", Type: echo.TypeName})
	require.NoError(t, err)
	services, err := backend.NewRegistry(echoSvc)
	require.NoError(t, err)

	models := registry.NewStore(repo, cache.NewMemoryCache(), time.Minute, log)
	tasks := task.NewManager(log)

	reg := prometheus.NewRegistry()
	sink := telemetry.NewPrometheusSink(reg)
	telemetry.RegisterActiveStreams(reg, tasks.Len)

	gw := gateway.NewService(log, models, services, tasks, sink, gateway.Options{DefaultTimeout: 5 * time.Second})
	connectors := connector.NewService(repo.Connectors(), 10000)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)

	cfg := &config.Config{}
	cfg.Server.Env = "test"

	srv := New(cfg, log, Dependencies{
		Gateway:    gw,
		Endpoints:  models,
		Services:   services,
		Connectors: connectors,
		Analytics:  analytics.NewService(repo),
		Gatherer:   reg,
		LogLevel:   level,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{url: ts.URL, connectors: connectors, tasks: tasks, level: level}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.url+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func (e *testEnv) putEchoEndpoint(t *testing.T, id string) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPut, "/v1/endpoints/"+id, map[string]any{
		"service":   "echo1",
		"task_type": "completion",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, []any{"echo1"}, body["services"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestEndpointLifecycle(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodPut, "/v1/endpoints/chat", map[string]any{
		"service":       "echo1",
		"task_type":     "completion",
		"task_settings": map[string]any{"delay": "1ms"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chat", body["inference_id"])

	resp, body = env.do(t, http.MethodGet, "/v1/endpoints/chat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo1", body["service"])
	assert.Equal(t, "completion", body["task_type"])

	resp, body = env.do(t, http.MethodGet, "/v1/endpoints", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	resp, body = env.do(t, http.MethodDelete, "/v1/endpoints/chat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["acknowledged"])

	resp, body = env.do(t, http.MethodGet, "/v1/endpoints/chat", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "endpoint_not_found", body["error_kind"])
}

func TestPutEndpoint_Rejections(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodPut, "/v1/endpoints/x", map[string]any{
		"service":   "ghost",
		"task_type": "completion",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", body["error_kind"])
	assert.Contains(t, body["detail"], "ghost")

	resp, body = env.do(t, http.MethodPut, "/v1/endpoints/x", map[string]any{"service": "echo1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Validation Error", body["title"])
	fields, ok := body["errors"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "task_type")

	resp, body = env.do(t, http.MethodPut, "/v1/endpoints/x", map[string]any{
		"service":          "echo1",
		"task_type":        "completion",
		"service_settings": map[string]any{"dimensions": -1},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["detail"], "dimensions")
}

func TestInference_SingleShot(t *testing.T) {
	env := setupTestServer(t)
	env.putEchoEndpoint(t, "chat")

	for _, path := range []string{"/v1/inference/completion/chat", "/v1/inference/chat"} {
		resp, body := env.do(t, http.MethodPost, path, map[string]any{"input": "hello world"})
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, []any{map[string]any{"result": "hello world"}}, body["completion"], path)
	}

	resp, body := env.do(t, http.MethodPost, "/v1/inference/text_embedding/chat", map[string]any{"input": []string{"a", "b"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["text_embedding"], 2)
}

func TestInference_Errors(t *testing.T) {
	env := setupTestServer(t)
	env.putEchoEndpoint(t, "chat")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   string
	}{
		{"unknown endpoint", "/v1/inference/completion/missing", map[string]any{"input": "x"}, 404, "endpoint_not_found"},
		{"unknown task type", "/v1/inference/summarize/chat", map[string]any{"input": "x"}, 400, "validation"},
		{"too many segments", "/v1/inference/a/b/c", nil, 400, "validation"},
		{"backend failure", "/v1/inference/chat", map[string]any{"input": "x", "task_settings": map[string]any{"fail": "kaput"}}, 502, "backend_inference"},
		{"timeout", "/v1/inference/chat", map[string]any{"input": "x", "timeout": "50ms", "task_settings": map[string]any{"hang": true}}, 408, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, body["error_kind"])
			assert.Equal(t, float64(tt.status), body["status"])
			assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
		})
	}
}

func TestInference_BadBody(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodPost, "/v1/inference/chat", map[string]any{"input_type": "training"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	fields, ok := body["errors"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields["input_type"], "must be one of")
}

func readSSE(t *testing.T, r io.Reader) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}
	return events
}

func TestInference_Stream(t *testing.T) {
	env := setupTestServer(t)
	env.putEchoEndpoint(t, "chat")

	resp, err := http.Post(env.url+"/v1/inference/completion/chat/_stream", "application/json",
		strings.NewReader(`{"input": "hello stream"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Inference-Task-Id"))

	events := readSSE(t, resp.Body)
	assert.Equal(t, []string{
		`{"completion":[{"delta":"hello"}]}`,
		`{"completion":[{"delta":" stream"}]}`,
		`[DONE]`,
	}, events)
	assert.Zero(t, env.tasks.Len())
}

func TestInference_StreamQueryFlag(t *testing.T) {
	env := setupTestServer(t)
	env.putEchoEndpoint(t, "chat")

	resp, err := http.Post(env.url+"/v1/inference/chat?stream=true", "application/json", strings.NewReader(`{"input": "one"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSE(t, resp.Body)
	assert.Equal(t, []string{`{"completion":[{"delta":"one"}]}`, `[DONE]`}, events)
}

func TestInference_StreamCancelledThroughTaskAPI(t *testing.T) {
	env := setupTestServer(t)
	env.putEchoEndpoint(t, "chat")

	resp, err := http.Post(env.url+"/v1/inference/chat/_stream", "application/json",
		strings.NewReader(`{"input": "a b c d e f g h i j", "task_settings": {"delay": "30ms"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	taskID := resp.Header.Get("X-Inference-Task-Id")
	require.NotEmpty(t, taskID)

	cancelResp, body := env.do(t, http.MethodGet, "/v1/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)
	assert.Equal(t, "running", body["state"])

	cancelResp, body = env.do(t, http.MethodPost, fmt.Sprintf("/v1/tasks/%s/_cancel", taskID), nil)
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)
	assert.Equal(t, true, body["cancelled"])

	events := readSSE(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "[DONE]", events[len(events)-1])

	var streamErr struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-2]), &streamErr))
	assert.Equal(t, "cancelled", streamErr.Error["error_kind"])

	cancelResp, body = env.do(t, http.MethodGet, "/v1/tasks/"+taskID, nil)
	assert.Equal(t, http.StatusNotFound, cancelResp.StatusCode)
	assert.Equal(t, "task_not_found", body["error_kind"])
}

func TestTasks_UnknownTask(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodPost, "/v1/tasks/nope/_cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "task_not_found", body["error_kind"])

	resp, body = env.do(t, http.MethodGet, "/v1/tasks", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["data"])
}

func TestConnectors_Pagination(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()
	for i := range 15 {
		require.NoError(t, env.connectors.Create(ctx, &model.Connector{
			ID:   fmt.Sprintf("conn-%02d", i),
			Name: fmt.Sprintf("Connector %d", i),
		}))
	}

	resp, body := env.do(t, http.MethodGet, "/v1/connectors", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["results"], 15)
	assert.Equal(t, float64(15), body["count"])

	resp, body = env.do(t, http.MethodGet, "/v1/connectors?from=10&size=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["results"], 5)
	assert.Equal(t, float64(15), body["count"])

	resp, body = env.do(t, http.MethodGet, "/v1/connectors?size=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["results"])
	assert.Equal(t, float64(15), body["count"])

	resp, body = env.do(t, http.MethodGet, "/v1/connectors?size=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "[size] parameter cannot be negative, found [-1]", body["detail"])

	resp, body = env.do(t, http.MethodGet, "/v1/connectors?size=10001", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Page size is too big, must be less than or equal to [10000] but was [10001]", body["detail"])

	resp, _ = env.do(t, http.MethodGet, "/v1/connectors?from=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	env := setupTestServer(t)
	env.putEchoEndpoint(t, "chat")
	env.do(t, http.MethodPost, "/v1/inference/chat", map[string]any{"input": "x"})

	resp, err := http.Get(env.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `inference_requests_total{outcome="success",service="echo1",streamed="false",task_type="completion"} 1`)
	assert.Contains(t, string(data), "inference_active_streams 0")
}

func TestLogLevel(t *testing.T) {
	env := setupTestServer(t)

	resp, body := env.do(t, http.MethodPut, "/v1/log/level", map[string]string{"level": "debug"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "debug", body["level"])
	assert.Equal(t, zapcore.DebugLevel, env.level.Level())

	resp, body = env.do(t, http.MethodGet, "/v1/log/level", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "debug", body["level"])
}
