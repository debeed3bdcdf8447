// Package echo is a deterministic local backend. It needs no upstream and is used for smoke tests,
// benchmarks and as a reference implementation of the backend contracts.
package echo

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/inference"
)

const TypeName = "echo"

func init() {
	backend.Register(TypeName, func(cfg config.ServiceConfig) (backend.Service, error) {
		return NewService(cfg)
	})
}

// Settings control the simulated behaviour of an endpoint. Service-level values from the config
// block act as defaults for every endpoint.
type Settings struct {
	// Delay is slept before every chunk (streaming) or once (single shot).
	Delay time.Duration `mapstructure:"delay"`
	// Hang blocks until the context is done.
	Hang bool `mapstructure:"hang"`
	// Fail makes every call return a backend error with this message.
	Fail string `mapstructure:"fail"`
	// Dimensions is the size of generated text embeddings.
	Dimensions int `mapstructure:"dimensions"`
}

type Service struct {
	name     string
	defaults Settings
}

func NewService(cfg config.ServiceConfig) (*Service, error) {
	s := &Service{name: cfg.ID, defaults: Settings{Dimensions: 8}}
	raw := make(map[string]any, len(cfg.Config))
	for k, v := range cfg.Config {
		raw[k] = v
	}
	if err := backend.DecodeSettings(raw, &s.defaults); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Name() string { return s.name }
func (s *Service) Type() string { return TypeName }

func (s *Service) SupportedTaskTypes() []inference.TaskType {
	return []inference.TaskType{
		inference.TaskCompletion,
		inference.TaskChatCompletion,
		inference.TaskTextEmbedding,
		inference.TaskSparseEmbedding,
		inference.TaskRerank,
	}
}

// AcceptsTaskType accepts every request; the requested type selects the output shape.
func (s *Service) AcceptsTaskType(inference.Model, inference.TaskType) bool { return true }

func (s *Service) ExplainIncompatibility(inference.Model, inference.TaskType) string { return "" }

func (s *Service) Parse(cfg inference.UnparsedModel) (inference.Model, error) {
	if err := backend.ParseBase(s, cfg); err != nil {
		return inference.Model{}, err
	}
	settings := s.defaults
	if err := backend.DecodeSettings(cfg.ServiceSettings, &settings); err != nil {
		return inference.Model{}, err
	}
	if settings.Dimensions <= 0 {
		return inference.Model{}, fmt.Errorf("dimensions must be positive, got %d", settings.Dimensions)
	}
	return inference.Model{UnparsedModel: cfg, Settings: settings}, nil
}

func (s *Service) SupportsStreaming(t inference.TaskType) bool {
	return t == inference.TaskCompletion || t == inference.TaskChatCompletion
}

func (s *Service) Infer(ctx context.Context, model inference.Model, req *inference.Request) (inference.Results, error) {
	settings, err := s.settings(model, req)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, settings); err != nil {
		return nil, err
	}
	if settings.Fail != "" {
		return nil, fmt.Errorf("%s", settings.Fail)
	}

	inputs := req.InputStrings()
	switch effectiveTaskType(model, req) {
	case inference.TaskTextEmbedding:
		out := inference.TextEmbeddingResults{Embeddings: make([]inference.Embedding, 0, len(inputs))}
		for _, in := range inputs {
			out.Embeddings = append(out.Embeddings, inference.Embedding{Embedding: denseVector(in, settings.Dimensions)})
		}
		return out, nil
	case inference.TaskSparseEmbedding:
		out := inference.SparseEmbeddingResults{Embeddings: make([]inference.SparseEmbedding, 0, len(inputs))}
		for _, in := range inputs {
			out.Embeddings = append(out.Embeddings, inference.SparseEmbedding{Embedding: termWeights(in)})
		}
		return out, nil
	case inference.TaskRerank:
		return rerank(req.Query, inputs), nil
	default:
		out := inference.CompletionResults{Completion: make([]inference.CompletionResult, 0, len(inputs))}
		for _, in := range inputs {
			out.Completion = append(out.Completion, inference.CompletionResult{Result: in})
		}
		return out, nil
	}
}

// Stream emits every word of every input as its own chunk.
func (s *Service) Stream(ctx context.Context, model inference.Model, req *inference.Request) (<-chan inference.StreamEvent, error) {
	settings, err := s.settings(model, req)
	if err != nil {
		return nil, err
	}
	if settings.Fail != "" {
		return nil, fmt.Errorf("%s", settings.Fail)
	}

	var words []string
	for _, in := range req.InputStrings() {
		words = append(words, strings.Fields(in)...)
	}

	ch := make(chan inference.StreamEvent)
	go func() {
		defer close(ch)
		for i, w := range words {
			if err := wait(ctx, settings); err != nil {
				send(ctx, ch, inference.StreamEvent{Err: err})
				return
			}
			delta := w
			if i > 0 {
				delta = " " + w
			}
			chunk := &inference.Chunk{Deltas: []string{delta}, Final: i == len(words)-1}
			if !send(ctx, ch, inference.StreamEvent{Chunk: chunk}) {
				return
			}
		}
		if len(words) == 0 {
			if err := wait(ctx, settings); err != nil {
				send(ctx, ch, inference.StreamEvent{Err: err})
				return
			}
			send(ctx, ch, inference.StreamEvent{Chunk: &inference.Chunk{Final: true}})
		}
	}()
	return ch, nil
}

func (s *Service) settings(model inference.Model, req *inference.Request) (Settings, error) {
	settings, ok := model.Settings.(Settings)
	if !ok {
		settings = s.defaults
	}
	// per-request overrides arrive through task settings
	if len(req.TaskSettings) > 0 {
		if err := backend.DecodeSettings(req.TaskSettings, &settings); err != nil {
			return Settings{}, inference.ValidationError("invalid task_settings: %v", err)
		}
	}
	return settings, nil
}

func effectiveTaskType(model inference.Model, req *inference.Request) inference.TaskType {
	if req.TaskType.IsConcrete() {
		return req.TaskType
	}
	return model.TaskType
}

func wait(ctx context.Context, settings Settings) error {
	if settings.Hang {
		<-ctx.Done()
		return context.Cause(ctx)
	}
	if settings.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(settings.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

func send(ctx context.Context, ch chan<- inference.StreamEvent, ev inference.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func denseVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		v := float64(h.Sum32())/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func termWeights(text string) map[string]float32 {
	weights := make(map[string]float32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		weights[w]++
	}
	return weights
}

func rerank(query *string, docs []string) inference.RankedDocsResults {
	terms := map[string]bool{}
	if query != nil {
		for _, w := range strings.Fields(strings.ToLower(*query)) {
			terms[w] = true
		}
	}

	out := inference.RankedDocsResults{Rerank: make([]inference.RankedDoc, 0, len(docs))}
	for i, d := range docs {
		words := strings.Fields(strings.ToLower(d))
		var hits int
		for _, w := range words {
			if terms[w] {
				hits++
			}
		}
		var score float32
		if len(words) > 0 {
			score = float32(hits) / float32(len(words))
		}
		out.Rerank = append(out.Rerank, inference.RankedDoc{Index: i, RelevanceScore: score, Text: d})
	}

	sort.SliceStable(out.Rerank, func(i, j int) bool {
		return out.Rerank[i].RelevanceScore > out.Rerank[j].RelevanceScore
	})
	return out
}
