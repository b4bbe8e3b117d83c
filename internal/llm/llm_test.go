package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kkzk/remindmine/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

type reply struct {
	text  string
	err   error
	delay time.Duration
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	var r reply
	if len(m.replies) > 0 {
		r = m.replies[0]
		m.replies = m.replies[1:]
	}
	for _, msg := range messages {
		for _, p := range msg.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				m.prompts = append(m.prompts, tc.Text)
			}
		}
	}
	m.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: r.text}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func fastConfig() Config {
	return Config{Model: "test", BaseBackoff: time.Millisecond, RequestsPerSecond: 1000}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Provider: "ollama"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Provider: "ollama", Model: "llama3.2"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Provider: "openai", Model: "gpt-4o-mini"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(Config{Provider: "bedrock", Model: "x"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	c, err := New(Config{Provider: "ollama", Model: "llama3.2", BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, c.config.Timeout)
}

func TestComplete_TrimsAndPassesPrompt(t *testing.T) {
	m := &scriptedModel{replies: []reply{{text: "  check the cable \n"}}}
	c := NewWithModel(m, fastConfig(), nil)

	text, err := c.Complete(context.Background(), "why is the printer offline?")
	require.NoError(t, err)
	assert.Equal(t, "check the cable", text)
	assert.Equal(t, []string{"why is the printer offline?"}, m.prompts)
}

func TestComplete_RetriesTransientErrors(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		{err: errors.New("dial tcp: connection refused")},
		{err: errors.New("API returned unexpected status code: 503")},
		{text: "ok"},
	}}
	c := NewWithModel(m, fastConfig(), nil)

	text, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Len(t, m.prompts, 3)
}

func TestComplete_PermanentErrorIsNotRetried(t *testing.T) {
	m := &scriptedModel{replies: []reply{{err: errors.New("model not found")}, {text: "never"}}}
	c := NewWithModel(m, fastConfig(), nil)

	_, err := c.Complete(context.Background(), "p")
	assert.ErrorContains(t, err, "model not found")
	assert.Len(t, m.prompts, 1)
}

func TestComplete_EmptyCompletion(t *testing.T) {
	m := &scriptedModel{replies: []reply{{text: "   "}}}
	c := NewWithModel(m, fastConfig(), nil)

	_, err := c.Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.Len(t, m.prompts, 1)
}

func TestComplete_TimeoutIsRetriedThenFails(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		{delay: time.Second},
		{delay: time.Second},
	}}
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRetries = 1
	c := NewWithModel(m, cfg, nil)

	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorContains(t, err, "timed out")
	assert.Len(t, m.prompts, 2)
}

func TestComplete_CancelledContext(t *testing.T) {
	m := &scriptedModel{replies: []reply{{err: errors.New("connection reset by peer")}}}
	c := NewWithModel(m, fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, "p")
	assert.Error(t, err)
}

func TestCompleterFunc(t *testing.T) {
	var c Completer = CompleterFunc(func(_ context.Context, p string) (string, error) { return "echo " + p, nil })
	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "echo x", out)
}

func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	c := ConfigFrom(cfg)
	assert.Equal(t, "ollama", c.Provider)
	assert.Equal(t, "llama3.2", c.Model)
	assert.Equal(t, "http://localhost:11434", c.BaseURL)
	assert.Equal(t, 3, c.MaxRetries)

	cfg.AI.Provider = config.ProviderOpenAI
	cfg.OpenAI.APIKey = "sk-test"
	c = ConfigFrom(cfg)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.Equal(t, "sk-test", c.APIKey)
}
