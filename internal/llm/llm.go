// Package llm generates text completions through langchaingo models.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 120 * time.Second
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second
	defaultRateLimit   = 2.0
	defaultBurst       = 2
)

var (
	// ErrEmptyCompletion is returned when the model produced only whitespace.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

var tracer = otel.Tracer("remindmine.llm")

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config selects and tunes the completion model.
type Config struct {
	// Provider is "ollama" or "openai".
	Provider string
	Model    string
	BaseURL  string
	APIKey   string

	// Timeout per attempt. Default: 120s.
	Timeout time.Duration

	// RequestsPerSecond caps call rate. Default: 2.
	RequestsPerSecond float64

	// MaxRetries for transient failures. Default: 3. Negative disables retries.
	MaxRetries int

	// BaseBackoff doubles after every failed attempt. Default: 1s.
	BaseBackoff time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRateLimit
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
}

// Client is a rate-limited, retrying Completer.
type Client struct {
	model   llms.Model
	name    string
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client for cfg.Provider.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: ollama base URL required", ErrInvalidConfig)
		}
		model, err = ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai API key required", ErrInvalidConfig)
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s client: %w", cfg.Provider, err)
	}
	return NewWithModel(model, cfg, logger), nil
}

// NewWithModel wraps an existing langchaingo model.
func NewWithModel(model llms.Model, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Client{
		model:   model,
		name:    cfg.Model,
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), defaultBurst),
		logger:  logger,
	}
}

// Complete sends prompt to the model. Transient failures are retried with
// exponential backoff.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("model", c.name),
		attribute.Int("prompt_length", len(prompt)),
	)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.BaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}

		text, err := c.attempt(ctx, prompt)
		if err == nil {
			span.SetStatus(codes.Ok, "success")
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isTransient(err) {
			break
		}
		c.logger.Warn("completion attempt failed, retrying",
			zap.String("model", c.name),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	text, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &transientError{err: fmt.Errorf("completion timed out after %s: %w", c.config.Timeout, err)}
		}
		return "", fmt.Errorf("generating completion: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// isTransient reports whether err is worth another attempt.
func isTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "429", "rate limit", "502", "503", "504", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
