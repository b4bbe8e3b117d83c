// Package embeddings converts text to vectors through a pluggable provider.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// DefaultTimeout bounds a single embedding call.
const DefaultTimeout = 30 * time.Second

// Provider converts text to vectors.
type Provider interface {
	// EmbedDocuments returns one vector per text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery returns the vector of a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// ModelID identifies the embedding model.
	ModelID() string

	// Dimension is the declared vector length.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// knownDimensions maps common embedding models to their output size.
var knownDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"bge-m3":                 1024,
	"snowflake-arctic-embed": 1024,
}

// KnownDimension returns the table dimension of model, ignoring an Ollama
// ":tag" suffix.
func KnownDimension(model string) (int, bool) {
	name := strings.ToLower(model)
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	dim, ok := knownDimensions[name]
	return dim, ok
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	// Provider is "ollama" or "openai".
	Provider string

	// Model is the embedding model name.
	Model string

	// BaseURL is the server URL (Ollama) or API base (OpenAI, optional).
	BaseURL string

	// APIKey authenticates OpenAI requests.
	APIKey string

	// Dimension overrides the known-model table and the probe when > 0.
	Dimension int

	// Timeout per call. Default: 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c ProviderConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: embedding model required", ErrInvalidConfig)
	}
	switch c.Provider {
	case "ollama":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: ollama base URL required", ErrInvalidConfig)
		}
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("%w: openai API key required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	return nil
}

// NewProvider builds a langchaingo-backed provider.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var client lcembeddings.EmbedderClient
	switch cfg.Provider {
	case "ollama":
		llm, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("creating ollama client: %w", err)
		}
		client = llm
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("creating openai client: %w", err)
		}
		client = llm
	}

	embedder, err := lcembeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	p := &langchainProvider{
		embedder: embedder,
		model:    cfg.Model,
		timeout:  timeout,
		logger:   logger,
	}
	if cfg.Dimension > 0 {
		p.dimension = cfg.Dimension
	} else if dim, ok := KnownDimension(cfg.Model); ok {
		p.dimension = dim
	}
	return p, nil
}

// langchainProvider adapts a langchaingo Embedder. Unknown dimensions are
// resolved with one probe embedding, cached for the process lifetime.
type langchainProvider struct {
	embedder lcembeddings.Embedder
	model    string
	timeout  time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	dimension int
}

func (p *langchainProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

func (p *langchainProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

func (p *langchainProvider) ModelID() string { return p.model }

// Dimension returns the declared dimension, probing the model once if
// neither config nor the known-model table supplied it. A failed probe
// returns 0 and is retried on the next call.
func (p *langchainProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dimension > 0 {
		return p.dimension
	}

	vec, err := p.EmbedQuery(context.Background(), "dimension probe")
	if err != nil {
		p.logger.Warn("embedding dimension probe failed", zap.String("model", p.model), zap.Error(err))
		return 0
	}
	p.dimension = len(vec)
	p.logger.Info("probed embedding dimension", zap.String("model", p.model), zap.Int("dimension", p.dimension))
	return p.dimension
}

func (p *langchainProvider) Close() error { return nil }
