package echo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho(t *testing.T, cfg map[string]string) *Service {
	t.Helper()
	svc, err := NewService(config.ServiceConfig{ID: "echo", Type: TypeName, Config: cfg})
	require.NoError(t, err)
	return svc
}

func model(t *testing.T, svc *Service, taskType inference.TaskType, settings map[string]any) inference.Model {
	t.Helper()
	m, err := svc.Parse(inference.UnparsedModel{InferenceID: "e", Service: "echo", TaskType: taskType, ServiceSettings: settings})
	require.NoError(t, err)
	return m
}

func TestInfer_Completion(t *testing.T) {
	svc := newEcho(t, nil)
	res, err := svc.Infer(context.Background(), model(t, svc, inference.TaskCompletion, nil),
		&inference.Request{Input: inference.TextInput("hello", "world")})
	require.NoError(t, err)
	assert.Equal(t, inference.CompletionResults{Completion: []inference.CompletionResult{{Result: "hello"}, {Result: "world"}}}, res)
}

func TestInfer_EmbeddingIsDeterministic(t *testing.T) {
	svc := newEcho(t, map[string]string{"dimensions": "4"})
	m := model(t, svc, inference.TaskTextEmbedding, nil)

	a, err := svc.Infer(context.Background(), m, &inference.Request{Input: inference.TextInput("x")})
	require.NoError(t, err)
	b, err := svc.Infer(context.Background(), m, &inference.Request{Input: inference.TextInput("x")})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.(inference.TextEmbeddingResults).Embeddings[0].Embedding, 4)
}

func TestInfer_Rerank(t *testing.T) {
	svc := newEcho(t, nil)
	q := "red apple"
	res, err := svc.Infer(context.Background(), model(t, svc, inference.TaskRerank, nil),
		&inference.Request{Query: &q, Input: inference.TextInput("blue sky", "red apple pie")})
	require.NoError(t, err)

	ranked := res.(inference.RankedDocsResults).Rerank
	require.Len(t, ranked, 2)
	assert.Equal(t, 1, ranked[0].Index)
	assert.Equal(t, 0, ranked[1].Index)
}

func TestInfer_Fail(t *testing.T) {
	svc := newEcho(t, nil)
	_, err := svc.Infer(context.Background(), model(t, svc, inference.TaskCompletion, map[string]any{"fail": "kaput"}),
		&inference.Request{Input: inference.TextInput("x")})
	assert.EqualError(t, err, "kaput")
}

func TestMalformedTaskSettingsAreRejected(t *testing.T) {
	svc := newEcho(t, nil)
	m := model(t, svc, inference.TaskCompletion, nil)
	req := &inference.Request{Input: inference.TextInput("x"), TaskSettings: map[string]any{"delay": "soon"}}

	_, err := svc.Infer(context.Background(), m, req)
	require.Error(t, err)
	assert.Equal(t, inference.KindValidation, inference.KindOf(err))

	_, err = svc.Stream(context.Background(), m, req)
	require.Error(t, err)
	assert.Equal(t, inference.KindValidation, inference.KindOf(err))
}

func TestInfer_HangHonoursContext(t *testing.T) {
	svc := newEcho(t, nil)
	cause := errors.New("gave up")
	ctx, cancel := context.WithTimeoutCause(context.Background(), 20*time.Millisecond, cause)
	defer cancel()

	_, err := svc.Infer(ctx, model(t, svc, inference.TaskCompletion, map[string]any{"hang": true}),
		&inference.Request{Input: inference.TextInput("x")})
	assert.ErrorIs(t, err, cause)
}

func TestStream_WordChunks(t *testing.T) {
	svc := newEcho(t, nil)
	ch, err := svc.Stream(context.Background(), model(t, svc, inference.TaskCompletion, nil),
		&inference.Request{Input: inference.TextInput("one two three")})
	require.NoError(t, err)

	var deltas []string
	var finals int
	for ev := range ch {
		require.NoError(t, ev.Err)
		deltas = append(deltas, ev.Chunk.Deltas...)
		if ev.Chunk.Final {
			finals++
		}
	}
	assert.Equal(t, []string{"one", " two", " three"}, deltas)
	assert.Equal(t, 1, finals)
}

func TestStream_EmptyInputStillTerminates(t *testing.T) {
	svc := newEcho(t, nil)
	ch, err := svc.Stream(context.Background(), model(t, svc, inference.TaskCompletion, nil), &inference.Request{})
	require.NoError(t, err)

	ev, ok := <-ch
	require.True(t, ok)
	assert.True(t, ev.Chunk.Final)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestAcceptsAnyTaskType(t *testing.T) {
	svc := newEcho(t, nil)
	m := model(t, svc, inference.TaskCompletion, nil)
	assert.True(t, svc.AcceptsTaskType(m, inference.TaskRerank))
	assert.False(t, svc.SupportsStreaming(inference.TaskTextEmbedding))
}

func TestParse_RejectsBadSettings(t *testing.T) {
	svc := newEcho(t, nil)
	_, err := svc.Parse(inference.UnparsedModel{InferenceID: "e", Service: "echo", TaskType: inference.TaskTextEmbedding,
		ServiceSettings: map[string]any{"dimensions": 0}})
	assert.Error(t, err)

	_, err = svc.Parse(inference.UnparsedModel{InferenceID: "e", Service: "echo", TaskType: inference.TaskCompletion,
		ServiceSettings: map[string]any{"delay": "not-a-duration"}})
	assert.Error(t, err)
}
