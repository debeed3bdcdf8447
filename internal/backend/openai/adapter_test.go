package openai_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulzo/inference-gateway/internal/backend/openai"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, url string) *openai.Adapter {
	t.Helper()
	adapter, err := openai.NewAdapter(config.ServiceConfig{
		ID:      "openai-test",
		Type:    "openai",
		APIKey:  "test-key",
		BaseURL: url + "/v1",
	})
	require.NoError(t, err)
	return adapter
}

func parse(t *testing.T, a *openai.Adapter, taskType inference.TaskType) inference.Model {
	t.Helper()
	model, err := a.Parse(inference.UnparsedModel{
		InferenceID:     "e1",
		Service:         "openai-test",
		TaskType:        taskType,
		ServiceSettings: map[string]any{"model_id": "gpt-4o-mini"},
		TaskSettings:    map[string]any{"temperature": 0.2},
	})
	require.NoError(t, err)
	return model
}

func TestParse(t *testing.T) {
	adapter := newAdapter(t, "http://unused")

	_, err := adapter.Parse(inference.UnparsedModel{InferenceID: "e1", Service: "openai-test", TaskType: inference.TaskCompletion})
	assert.ErrorContains(t, err, "model_id")

	_, err = adapter.Parse(inference.UnparsedModel{
		InferenceID: "e1", Service: "openai-test", TaskType: inference.TaskRerank,
		ServiceSettings: map[string]any{"model_id": "m"},
	})
	assert.ErrorContains(t, err, "does not support")

	_, err = adapter.Parse(inference.UnparsedModel{
		InferenceID: "e1", Service: "other", TaskType: inference.TaskCompletion,
		ServiceSettings: map[string]any{"model_id": "m"},
	})
	assert.Error(t, err)
}

func TestInfer_Completion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.Equal(t, 0.9, body["temperature"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there!"}, "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	model := parse(t, adapter, inference.TaskCompletion)

	res, err := adapter.Infer(context.Background(), model, &inference.Request{
		Input:        inference.TextInput("Hi"),
		TaskSettings: map[string]any{"temperature": 0.9},
	})
	require.NoError(t, err)

	completion, ok := res.(inference.CompletionResults)
	require.True(t, ok)
	require.Len(t, completion.Completion, 1)
	assert.Equal(t, "Hello there!", completion.Completion[0].Result)
	assert.Equal(t, "openai-test", adapter.Name())
}

func TestInfer_Embeddings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		// out of order on purpose
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.3,0.4]},{"index":0,"embedding":[0.1,0.2]}]}`))
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	model := parse(t, adapter, inference.TaskTextEmbedding)

	res, err := adapter.Infer(context.Background(), model, &inference.Request{Input: inference.TextInput("a", "b")})
	require.NoError(t, err)

	emb := res.(inference.TextEmbeddingResults)
	require.Len(t, emb.Embeddings, 2)
	assert.Equal(t, []float32{0.1, 0.2}, emb.Embeddings[0].Embedding)
	assert.Equal(t, []float32{0.3, 0.4}, emb.Embeddings[1].Embedding)
}

func TestInfer_UpstreamErrorBecomesBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	model := parse(t, adapter, inference.TaskCompletion)

	_, err := adapter.Infer(context.Background(), model, &inference.Request{Input: inference.TextInput("Hi")})
	require.Error(t, err)
	assert.Equal(t, inference.KindBackendInference, inference.KindOf(err))
	assert.Contains(t, err.Error(), "bad key")

	var ie *inference.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, http.StatusUnauthorized, ie.UpstreamStatus)
}

func TestStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"total_tokens\":3}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	model := parse(t, adapter, inference.TaskChatCompletion)
	assert.True(t, adapter.SupportsStreaming(inference.TaskChatCompletion))
	assert.False(t, adapter.SupportsStreaming(inference.TaskTextEmbedding))

	ch, err := adapter.Stream(context.Background(), model, &inference.Request{Input: inference.TextInput("Hi")})
	require.NoError(t, err)

	var deltas []string
	var final bool
	for ev := range ch {
		require.NoError(t, ev.Err)
		deltas = append(deltas, ev.Chunk.Deltas...)
		final = ev.Chunk.Final
	}
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.True(t, final)
}

func TestStream_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	model := parse(t, adapter, inference.TaskCompletion)

	ch, err := adapter.Stream(context.Background(), model, &inference.Request{Input: inference.TextInput("Hi")})
	require.NoError(t, err)

	var last inference.StreamEvent
	for ev := range ch {
		last = ev
	}
	require.Error(t, last.Err)
	assert.Equal(t, inference.KindBackendInference, inference.KindOf(last.Err))
}
