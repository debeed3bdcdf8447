package ollama_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nulzo/inference-gateway/internal/backend/ollama"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaHealthAndInfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/version":
			_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
		case "/v1/chat/completions":
			assert.Empty(t, r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	adapter, err := ollama.NewAdapter(config.ServiceConfig{ID: "local", Type: "ollama", BaseURL: server.URL})
	require.NoError(t, err)

	assert.Equal(t, "ollama", adapter.Type())
	assert.Equal(t, "local", adapter.Name())
	require.NoError(t, adapter.Health(context.Background()))

	model, err := adapter.Parse(inference.UnparsedModel{
		InferenceID:     "llama",
		Service:         "local",
		TaskType:        inference.TaskChatCompletion,
		ServiceSettings: map[string]any{"model_id": "llama3"},
	})
	require.NoError(t, err)

	res, err := adapter.Infer(context.Background(), model, &inference.Request{Input: inference.TextInput("ping")})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.(inference.CompletionResults).Completion[0].Result)
}

func TestOllamaHealth_Down(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter, err := ollama.NewAdapter(config.ServiceConfig{ID: "local", Type: "ollama", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)
	assert.Error(t, adapter.Health(context.Background()))
}
