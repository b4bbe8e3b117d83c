package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"ollama ok", ProviderConfig{Provider: "ollama", Model: "llama3.2", BaseURL: "http://localhost:11434"}, false},
		{"ollama without url", ProviderConfig{Provider: "ollama", Model: "llama3.2"}, true},
		{"openai ok", ProviderConfig{Provider: "openai", Model: "text-embedding-3-small", APIKey: "sk-test"}, false},
		{"openai without key", ProviderConfig{Provider: "openai", Model: "text-embedding-3-small"}, true},
		{"missing model", ProviderConfig{Provider: "ollama", BaseURL: "http://x"}, true},
		{"unknown provider", ProviderConfig{Provider: "bedrock", Model: "m"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKnownDimension(t *testing.T) {
	dim, ok := KnownDimension("nomic-embed-text:latest")
	assert.True(t, ok)
	assert.Equal(t, 768, dim)

	dim, ok = KnownDimension("Text-Embedding-3-Large")
	assert.True(t, ok)
	assert.Equal(t, 3072, dim)

	_, ok = KnownDimension("llama3.2")
	assert.False(t, ok)
}

func TestNewProvider_DimensionFromTableAndOverride(t *testing.T) {
	p, err := NewProvider(ProviderConfig{
		Provider: "ollama",
		Model:    "nomic-embed-text",
		BaseURL:  "http://127.0.0.1:1",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", p.ModelID())
	assert.Equal(t, 768, p.Dimension())
	require.NoError(t, p.Close())

	p, err = NewProvider(ProviderConfig{
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		APIKey:    "sk-test",
		Dimension: 512,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 512, p.Dimension())
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Provider: "ollama"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLangchainProvider_RejectsEmptyInput(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "ollama", Model: "nomic-embed-text", BaseURL: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedQuery(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestFake(t *testing.T) {
	f := NewFake("fake-model", 32)
	ctx := context.Background()

	vecs, err := f.EmbedDocuments(ctx, []string{"printer offline", "printer offline", "vpn timeout"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], 32)
	assert.Equal(t, vecs[0], vecs[1])
	assert.NotEqual(t, vecs[0], vecs[2])

	q, err := f.EmbedQuery(ctx, "printer offline")
	require.NoError(t, err)
	assert.Equal(t, vecs[0], q)

	var norm float32
	for _, v := range q {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	f.DropLast = true
	vecs, err = f.EmbedDocuments(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)

	boom := errors.New("boom")
	f.SetErr(boom)
	_, err = f.EmbedQuery(ctx, "x")
	assert.ErrorIs(t, err, boom)

	calls, embedded := f.Stats()
	assert.Equal(t, 4, calls)
	assert.Equal(t, 5, embedded)
}
