package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/httpclient"
	"github.com/nulzo/inference-gateway/internal/inference"
)

const TypeName = "openai"

func init() {
	backend.Register(TypeName, func(cfg config.ServiceConfig) (backend.Service, error) {
		return NewAdapter(cfg)
	})
}

// ServiceSettings are parsed from an endpoint's service_settings.
type ServiceSettings struct {
	ModelID    string `mapstructure:"model_id"`
	Dimensions *int   `mapstructure:"dimensions"`
}

// TaskSettings are merged from the endpoint and the request.
type TaskSettings struct {
	Temperature *float64 `mapstructure:"temperature"`
	TopP        *float64 `mapstructure:"top_p"`
	MaxTokens   *int     `mapstructure:"max_tokens"`
	User        string   `mapstructure:"user"`
}

type Adapter struct {
	config config.ServiceConfig
	client httpclient.HTTPClient
	kind   string
}

func NewAdapter(cfg config.ServiceConfig) (*Adapter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &Adapter{
		config: cfg,
		// requests are bounded by the caller's deadline
		client: &http.Client{},
		kind:   TypeName,
	}, nil
}

// WithKind returns a copy reporting a different adapter type. Used by OpenAI-compatible backends.
func (a *Adapter) WithKind(kind string) *Adapter {
	cp := *a
	cp.kind = kind
	return &cp
}

func (a *Adapter) Name() string { return a.config.ID }
func (a *Adapter) Type() string { return a.kind }

func (a *Adapter) SupportedTaskTypes() []inference.TaskType {
	return []inference.TaskType{
		inference.TaskCompletion,
		inference.TaskChatCompletion,
		inference.TaskTextEmbedding,
	}
}

func (a *Adapter) SupportsStreaming(t inference.TaskType) bool {
	return t == inference.TaskCompletion || t == inference.TaskChatCompletion
}

func (a *Adapter) Parse(cfg inference.UnparsedModel) (inference.Model, error) {
	if err := backend.ParseBase(a, cfg); err != nil {
		return inference.Model{}, err
	}
	var settings ServiceSettings
	if err := backend.DecodeSettings(cfg.ServiceSettings, &settings); err != nil {
		return inference.Model{}, err
	}
	if settings.ModelID == "" {
		return inference.Model{}, errors.New("service_settings.model_id is required")
	}
	return inference.Model{UnparsedModel: cfg, Settings: settings}, nil
}

func (a *Adapter) Infer(ctx context.Context, model inference.Model, req *inference.Request) (inference.Results, error) {
	settings, taskSettings, err := a.settings(model, req)
	if err != nil {
		return nil, err
	}

	switch model.TaskType {
	case inference.TaskTextEmbedding:
		return a.embed(ctx, settings, taskSettings, req)
	case inference.TaskChatCompletion:
		text, err := a.chat(ctx, a.chatRequest(settings, taskSettings, messages(req)))
		if err != nil {
			return nil, err
		}
		return inference.CompletionResults{Completion: []inference.CompletionResult{{Result: text}}}, nil
	default:
		// one independent completion per input
		out := inference.CompletionResults{Completion: make([]inference.CompletionResult, 0, len(req.Input))}
		for _, in := range req.InputStrings() {
			msgs := []chatMessage{{Role: "user", Content: in}}
			if req.Query != nil {
				msgs = append([]chatMessage{{Role: "system", Content: *req.Query}}, msgs...)
			}
			text, err := a.chat(ctx, a.chatRequest(settings, taskSettings, msgs))
			if err != nil {
				return nil, err
			}
			out.Completion = append(out.Completion, inference.CompletionResult{Result: text})
		}
		return out, nil
	}
}

func (a *Adapter) Stream(ctx context.Context, model inference.Model, req *inference.Request) (<-chan inference.StreamEvent, error) {
	settings, taskSettings, err := a.settings(model, req)
	if err != nil {
		return nil, err
	}

	body := a.chatRequest(settings, taskSettings, messages(req))
	body.Stream = true
	body.StreamOptions = &streamOptions{IncludeUsage: true}

	ch := make(chan inference.StreamEvent)

	go func() {
		defer close(ch)

		sawFinal := false
		emit := func(ev inference.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := httpclient.StreamSSE(ctx, a.client, http.MethodPost, a.url("/chat/completions"), a.headers(), body, func(data string) error {
			var resp chatResponse
			if err := json.Unmarshal([]byte(data), &resp); err != nil {
				return fmt.Errorf("malformed stream chunk: %w", err)
			}
			// the usage-only trailer has no choices
			if len(resp.Choices) == 0 {
				return nil
			}

			chunk := &inference.Chunk{}
			for _, c := range resp.Choices {
				if c.Delta.Content != "" {
					chunk.Deltas = append(chunk.Deltas, c.Delta.Content)
				}
				if c.FinishReason != nil {
					chunk.Final = true
				}
			}
			if len(chunk.Deltas) == 0 && !chunk.Final {
				return nil
			}
			sawFinal = sawFinal || chunk.Final
			if !emit(inference.StreamEvent{Chunk: chunk}) {
				return context.Cause(ctx)
			}
			return nil
		})

		if err != nil {
			emit(inference.StreamEvent{Err: a.handleUpstreamError(err)})
			return
		}
		if !sawFinal {
			emit(inference.StreamEvent{Chunk: &inference.Chunk{Final: true}})
		}
	}()

	return ch, nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return httpclient.SendRequest(ctx, a.client, http.MethodGet, a.url("/models"), a.headers(), nil, nil)
}

func (a *Adapter) embed(ctx context.Context, settings ServiceSettings, ts TaskSettings, req *inference.Request) (inference.Results, error) {
	body := embeddingRequest{
		Model:      settings.ModelID,
		Input:      req.InputStrings(),
		Dimensions: settings.Dimensions,
		User:       ts.User,
	}

	var resp embeddingResponse
	if err := httpclient.SendRequest(ctx, a.client, http.MethodPost, a.url("/embeddings"), a.headers(), body, &resp); err != nil {
		return nil, a.handleUpstreamError(err)
	}
	if len(resp.Data) != len(body.Input) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(body.Input), len(resp.Data))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := inference.TextEmbeddingResults{Embeddings: make([]inference.Embedding, 0, len(resp.Data))}
	for _, d := range resp.Data {
		out.Embeddings = append(out.Embeddings, inference.Embedding{Embedding: d.Embedding})
	}
	return out, nil
}

func (a *Adapter) chat(ctx context.Context, body chatRequest) (string, error) {
	var resp chatResponse
	if err := httpclient.SendRequest(ctx, a.client, http.MethodPost, a.url("/chat/completions"), a.headers(), body, &resp); err != nil {
		return "", a.handleUpstreamError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("upstream returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *Adapter) chatRequest(settings ServiceSettings, ts TaskSettings, msgs []chatMessage) chatRequest {
	return chatRequest{
		Model:       settings.ModelID,
		Messages:    msgs,
		Temperature: ts.Temperature,
		TopP:        ts.TopP,
		MaxTokens:   ts.MaxTokens,
		User:        ts.User,
	}
}

func (a *Adapter) settings(model inference.Model, req *inference.Request) (ServiceSettings, TaskSettings, error) {
	settings, ok := model.Settings.(ServiceSettings)
	if !ok {
		return ServiceSettings{}, TaskSettings{}, fmt.Errorf("model [%s] was not parsed by service [%s]", model.InferenceID, a.Name())
	}
	var ts TaskSettings
	if err := backend.DecodeSettings(inference.MergeSettings(model.TaskSettings, req.TaskSettings), &ts); err != nil {
		return ServiceSettings{}, TaskSettings{}, inference.ValidationError("invalid task_settings: %v", err)
	}
	return settings, ts, nil
}

// messages turns the request into a conversation: the optional query becomes the system prompt and
// every input a user turn.
func messages(req *inference.Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.Input)+1)
	if req.Query != nil {
		msgs = append(msgs, chatMessage{Role: "system", Content: *req.Query})
	}
	for _, in := range req.InputStrings() {
		msgs = append(msgs, chatMessage{Role: "user", Content: in})
	}
	return msgs
}

func (a *Adapter) headers() map[string]string {
	headers := map[string]string{}
	if a.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + a.config.APIKey
	}
	if org, ok := a.config.Config["organization"]; ok {
		headers["OpenAI-Organization"] = org
	}
	return headers
}

func (a *Adapter) url(path string) string {
	return strings.TrimRight(a.config.BaseURL, "/") + path
}

func (a *Adapter) handleUpstreamError(err error) error {
	var upstreamErr *httpclient.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return err
	}
	msg := upstreamErr.Message()
	if msg == "" {
		msg = http.StatusText(upstreamErr.StatusCode)
	}
	return inference.UpstreamFailure(upstreamErr.StatusCode,
		fmt.Sprintf("Service [%s] returned status %d: %s", a.Name(), upstreamErr.StatusCode, msg), err)
}

// SetClient replaces the HTTP client. Tests use it to inject transports.
func (a *Adapter) SetClient(c httpclient.HTTPClient) { a.client = c }
