package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/backend/openai"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/httpclient"
)

const TypeName = "ollama"

func init() {
	backend.Register(TypeName, func(cfg config.ServiceConfig) (backend.Service, error) {
		return NewAdapter(cfg)
	})
}

// Adapter talks to Ollama through its OpenAI-compatible API and adds Ollama's own health probe.
type Adapter struct {
	*openai.Adapter // chat, stream and embeddings
	config          config.ServiceConfig
	client          *http.Client
}

func NewAdapter(cfg config.ServiceConfig) (*Adapter, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if !strings.HasSuffix(cfg.BaseURL, "/v1") {
		cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/v1"
	}

	oaAdapter, err := openai.NewAdapter(cfg)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		Adapter: oaAdapter.WithKind(TypeName),
		config:  cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (a *Adapter) Health(ctx context.Context) error {
	rootURL := strings.TrimSuffix(strings.TrimRight(a.config.BaseURL, "/"), "/v1")
	url := fmt.Sprintf("%s/api/version", rootURL)

	var resp struct {
		Version string `json:"version"`
	}
	if err := httpclient.SendRequest(ctx, a.client, http.MethodGet, url, nil, nil, &resp); err != nil {
		return fmt.Errorf("ollama health check failed: %w", err)
	}
	return nil
}
