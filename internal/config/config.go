// Package config provides configuration loading for remindmine.
//
// Values come from, lowest precedence first: built-in defaults, an optional
// YAML file, an optional .env file and the process environment. See Load.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Tracker kinds.
const (
	TrackerRedmine = "redmine"
	TrackerGitHub  = "github"
)

// AI providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Vector store providers.
const (
	StoreChromem = "chromem"
	StoreQdrant  = "qdrant"
)

// Config holds the complete remindmine configuration.
type Config struct {
	Redmine     RedmineConfig     `koanf:"redmine"`
	GitHub      GitHubConfig      `koanf:"github"`
	Tracker     TrackerConfig     `koanf:"tracker"`
	AI          AIConfig          `koanf:"ai"`
	Ollama      OllamaConfig      `koanf:"ollama"`
	OpenAI      OpenAIConfig      `koanf:"openai"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Data        DataConfig        `koanf:"data"`
	API         APIConfig         `koanf:"api"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// RedmineConfig configures the Redmine REST client.
type RedmineConfig struct {
	URL               string   `koanf:"url"`
	APIKey            Secret   `koanf:"api_key"`
	ProjectID         string   `koanf:"project_id"`
	DisableProxy      bool     `koanf:"disable_proxy"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
}

// GitHubConfig configures the GitHub issues source.
type GitHubConfig struct {
	Owner         string `koanf:"owner"`
	Repo          string `koanf:"repo"`
	Token         Secret `koanf:"token"`
	EnterpriseURL string `koanf:"enterprise_url"`
}

// TrackerConfig selects the source of truth.
type TrackerConfig struct {
	Kind string `koanf:"kind"`
}

// AIConfig holds provider selection and advice settings.
type AIConfig struct {
	Provider          string  `koanf:"provider"`
	CommentSignature  string  `koanf:"comment_signature"`
	TemplateFile      string  `koanf:"template_file"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	MaxRetries        int     `koanf:"max_retries"`
}

// OllamaConfig holds Ollama endpoint and model names.
type OllamaConfig struct {
	BaseURL        string `koanf:"base_url"`
	Model          string `koanf:"model"`
	EmbeddingModel string `koanf:"embedding_model"`
}

// OpenAIConfig holds OpenAI credentials and model names.
type OpenAIConfig struct {
	APIKey         Secret `koanf:"api_key"`
	Model          string `koanf:"model"`
	EmbeddingModel string `koanf:"embedding_model"`
	BaseURL        string `koanf:"base_url"`
}

// EmbeddingConfig tunes the embedding provider independent of backend.
type EmbeddingConfig struct {
	// Dimension overrides the known-model table and the probe when > 0.
	Dimension int `koanf:"dimension"`
	CacheSize int `koanf:"cache_size"`
}

// VectorStoreConfig selects and configures the vector store.
type VectorStoreConfig struct {
	Provider   string `koanf:"provider"`
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// DataConfig locates persisted state.
type DataConfig struct {
	Dir string `koanf:"dir"`
}

// APIConfig configures the HTTP admin surface.
type APIConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SchedulerConfig configures the background loops.
type SchedulerConfig struct {
	Enabled        bool     `koanf:"enabled"`
	ResyncInterval Duration `koanf:"resync_interval"`
	PollInterval   Duration `koanf:"poll_interval"`
	JoinTimeout    Duration `koanf:"join_timeout"`
	AutoAdvice     bool     `koanf:"auto_advice"`

	// Minute-valued aliases read from UPDATE_INTERVAL_MINUTES and
	// POLLING_INTERVAL_MINUTES; they win over the duration fields when set.
	ResyncMinutes int `koanf:"resync_minutes"`
	PollMinutes   int `koanf:"poll_minutes"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	Protocol    string `koanf:"protocol"`
	Insecure    bool   `koanf:"insecure"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Redmine: RedmineConfig{
			URL:               "http://localhost:3000",
			Timeout:           Duration(30 * time.Second),
			RequestsPerSecond: 10,
		},
		Tracker: TrackerConfig{Kind: TrackerRedmine},
		AI: AIConfig{
			Provider:          ProviderOllama,
			CommentSignature:  "AI advice",
			RequestsPerSecond: 2,
			MaxRetries:        3,
		},
		Ollama: OllamaConfig{
			BaseURL:        "http://localhost:11434",
			Model:          "llama3.2",
			EmbeddingModel: "llama3.2",
		},
		OpenAI: OpenAIConfig{
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Embedding: EmbeddingConfig{CacheSize: 512},
		VectorStore: VectorStoreConfig{
			Provider:   StoreChromem,
			Collection: "redmine_issues",
		},
		Qdrant: QdrantConfig{Host: "localhost", Port: 6334},
		Data:   DataConfig{Dir: "./data"},
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			ResyncInterval: Duration(60 * time.Minute),
			PollInterval:   Duration(5 * time.Minute),
			JoinTimeout:    Duration(10 * time.Second),
			AutoAdvice:     true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			ServiceName: "remindmine",
			Protocol:    "grpc",
		},
	}
}

// normalize folds aliases and derived paths into the canonical fields.
func (c *Config) normalize() {
	if c.Scheduler.ResyncMinutes > 0 {
		c.Scheduler.ResyncInterval = Duration(time.Duration(c.Scheduler.ResyncMinutes) * time.Minute)
	}
	if c.Scheduler.PollMinutes > 0 {
		c.Scheduler.PollInterval = Duration(time.Duration(c.Scheduler.PollMinutes) * time.Minute)
	}
	if c.VectorStore.Path == "" && c.VectorStore.Provider == StoreChromem {
		c.VectorStore.Path = filepath.Join(c.Data.Dir, "chromadb")
	}
	c.Tracker.Kind = strings.ToLower(c.Tracker.Kind)
	c.AI.Provider = strings.ToLower(c.AI.Provider)
	c.VectorStore.Provider = strings.ToLower(c.VectorStore.Provider)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Tracker.Kind {
	case TrackerRedmine:
		if c.Redmine.URL == "" {
			errs = append(errs, errors.New("redmine.url is required"))
		}
	case TrackerGitHub:
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			errs = append(errs, errors.New("github.owner and github.repo are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tracker.kind %q", c.Tracker.Kind))
	}

	switch c.AI.Provider {
	case ProviderOllama:
		if c.Ollama.BaseURL == "" {
			errs = append(errs, errors.New("ollama.base_url is required"))
		}
	case ProviderOpenAI:
		if !c.OpenAI.APIKey.IsSet() {
			errs = append(errs, errors.New("openai.api_key is required when ai.provider is openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ai.provider %q", c.AI.Provider))
	}

	switch c.VectorStore.Provider {
	case StoreChromem:
	case StoreQdrant:
		if c.Qdrant.Host == "" || c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid qdrant address %s:%d", c.Qdrant.Host, c.Qdrant.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vectorstore.provider %q", c.VectorStore.Provider))
	}
	if c.VectorStore.Collection == "" {
		errs = append(errs, errors.New("vectorstore.collection is required"))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid api.port: %d (must be 1-65535)", c.API.Port))
	}
	if c.Scheduler.ResyncInterval <= 0 || c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is required"))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("invalid embedding.dimension: %d", c.Embedding.Dimension))
	}

	return errors.Join(errs...)
}

// EmbeddingModel returns the embedding model of the selected provider.
func (c *Config) EmbeddingModel() string {
	if c.AI.Provider == ProviderOpenAI {
		return c.OpenAI.EmbeddingModel
	}
	return c.Ollama.EmbeddingModel
}

// StatePath is the index state document.
func (c *Config) StatePath() string { return filepath.Join(c.Data.Dir, "index_state.json") }

// LedgerPath is the pending-advice document.
func (c *Config) LedgerPath() string { return filepath.Join(c.Data.Dir, "pending_advice.json") }

// CheckpointPath is the poll checkpoint document.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.Data.Dir, "scheduler_checkpoint.json")
}

// SummaryCachePath is the summary cache document.
func (c *Config) SummaryCachePath() string { return filepath.Join(c.Data.Dir, "summaries.json") }

// LockPath is the scheduler single-writer lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Data.Dir, ".scheduler.lock") }

// TagRegistryPath is the vector store collection tag sidecar.
func (c *Config) TagRegistryPath() string {
	return filepath.Join(c.Data.Dir, "collection_tags.json")
}
