package llm

import (
	"github.com/kkzk/remindmine/internal/config"
)

// ConfigFrom selects the completion model of the configured AI provider.
func ConfigFrom(cfg *config.Config) Config {
	out := Config{
		Provider:          cfg.AI.Provider,
		RequestsPerSecond: cfg.AI.RequestsPerSecond,
		MaxRetries:        cfg.AI.MaxRetries,
	}
	switch cfg.AI.Provider {
	case config.ProviderOpenAI:
		out.Model = cfg.OpenAI.Model
		out.BaseURL = cfg.OpenAI.BaseURL
		out.APIKey = cfg.OpenAI.APIKey.Value()
	default:
		out.Model = cfg.Ollama.Model
		out.BaseURL = cfg.Ollama.BaseURL
	}
	return out
}
