package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/advice"
	"github.com/kkzk/remindmine/internal/checkpoint"
	"github.com/kkzk/remindmine/internal/config"
	"github.com/kkzk/remindmine/internal/embeddings"
	"github.com/kkzk/remindmine/internal/indexer"
	"github.com/kkzk/remindmine/internal/indexstate"
	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/llm"
	"github.com/kkzk/remindmine/internal/retrieval"
	"github.com/kkzk/remindmine/internal/scheduler"
	"github.com/kkzk/remindmine/internal/summary"
	"github.com/kkzk/remindmine/internal/tracker"
	"github.com/kkzk/remindmine/internal/vectorstore"
)

// Providers lets callers substitute the network-backed components.
// Nil fields are built from the config.
type Providers struct {
	Source    tracker.Source
	Store     vectorstore.Store
	Embedder  embeddings.Provider
	Completer llm.Completer
}

// NewSource builds the tracker client selected by cfg.Tracker.Kind.
func NewSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (tracker.Source, error) {
	switch cfg.Tracker.Kind {
	case config.TrackerRedmine, "":
		return tracker.NewRedmineClient(tracker.RedmineConfig{
			BaseURL:           cfg.Redmine.URL,
			APIKey:            cfg.Redmine.APIKey,
			ProjectID:         cfg.Redmine.ProjectID,
			DisableProxy:      cfg.Redmine.DisableProxy,
			Timeout:           cfg.Redmine.Timeout.Duration(),
			RequestsPerSecond: cfg.Redmine.RequestsPerSecond,
		}, logger)
	case config.TrackerGitHub:
		return tracker.NewGitHubSource(ctx, tracker.GitHubConfig{
			Owner:         cfg.GitHub.Owner,
			Repo:          cfg.GitHub.Repo,
			Token:         cfg.GitHub.Token,
			EnterpriseURL: cfg.GitHub.EnterpriseURL,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown tracker kind %q", cfg.Tracker.Kind)
	}
}

// EmbeddingConfig selects the embedding model of the configured AI provider.
func EmbeddingConfig(cfg *config.Config) embeddings.ProviderConfig {
	out := embeddings.ProviderConfig{
		Provider:  cfg.AI.Provider,
		Model:     cfg.EmbeddingModel(),
		Dimension: cfg.Embedding.Dimension,
	}
	if cfg.AI.Provider == config.ProviderOpenAI {
		out.BaseURL = cfg.OpenAI.BaseURL
		out.APIKey = cfg.OpenAI.APIKey.Value()
	} else {
		out.BaseURL = cfg.Ollama.BaseURL
	}
	return out
}

// Build constructs every component. The returned closer releases the
// vector store, the providers and the template watcher.
func Build(ctx context.Context, cfg *config.Config, p Providers, meter metric.Meter, logger *zap.Logger) (Registry, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (Registry, func() error, error) {
		_ = closeAll()
		return nil, nil, err
	}

	var err error
	source := p.Source
	if source == nil {
		if source, err = NewSource(ctx, cfg, logger.Named("tracker")); err != nil {
			return fail(fmt.Errorf("creating tracker source: %w", err))
		}
	}

	store := p.Store
	if store == nil {
		if store, err = vectorstore.NewStore(cfg, logger.Named("vectorstore")); err != nil {
			return fail(fmt.Errorf("creating vector store: %w", err))
		}
	}
	closers = append(closers, store.Close)

	embedder := p.Embedder
	if embedder == nil {
		if embedder, err = embeddings.NewProvider(EmbeddingConfig(cfg), logger.Named("embeddings")); err != nil {
			return fail(fmt.Errorf("creating embedding provider: %w", err))
		}
	}
	instrumented := embeddings.Instrument(embedder, embeddings.NewMetrics(meter, logger))
	cached := embeddings.NewCachedProvider(instrumented, cfg.Embedding.CacheSize)
	closers = append(closers, embedder.Close)

	completer := p.Completer
	if completer == nil {
		client, err := llm.New(llm.ConfigFrom(cfg), logger.Named("llm"))
		if err != nil {
			return fail(fmt.Errorf("creating completion client: %w", err))
		}
		completer = client
	}

	state := indexstate.NewStore(cfg.StatePath(), logger.Named("indexstate"))
	ix, err := indexer.New(store, instrumented, state, indexer.Config{Collection: cfg.VectorStore.Collection}, logger.Named("indexer"))
	if err != nil {
		return fail(err)
	}
	resyncer := indexer.NewResyncer(source, ix, logger.Named("indexer"))
	retriever := retrieval.New(store, cached, cfg.VectorStore.Collection, logger.Named("retrieval"))

	templates := advice.NewTemplates(cfg.AI.TemplateFile, logger.Named("advice"))
	if err := templates.Watch(ctx); err != nil {
		logger.Warn("advice template hot reload unavailable", zap.Error(err))
	}
	closers = append(closers, templates.Close)

	synth := advice.NewSynthesizer(retriever, completer, advice.Config{
		Signature:  cfg.AI.CommentSignature,
		TrackerURL: trackerURL(cfg),
		Templates:  templates,
	}, logger.Named("advice"))

	pending := ledger.Open(cfg.LedgerPath(), source.ItemURL, logger.Named("ledger"))
	reviewer := advice.NewReviewer(pending, source, logger.Named("advice"))

	summaryCache, err := summary.OpenCache(cfg.SummaryCachePath(), summary.DefaultCacheSize, logger.Named("summary"))
	if err != nil {
		return fail(err)
	}

	reg := NewRegistry(Options{
		Config:      cfg,
		Source:      source,
		VectorStore: store,
		Embedder:    cached,
		Indexer:     ix,
		Resyncer:    resyncer,
		Retriever:   retriever,
		Completer:   completer,
		Templates:   templates,
		Synthesizer: synth,
		Reviewer:    reviewer,
		Ledger:      pending,
		Checkpoints: checkpoint.NewStore(cfg.CheckpointPath(), logger.Named("checkpoint")),
		Settings:    scheduler.NewSettings(cfg.Scheduler.AutoAdvice),
		Summarizer:  summary.New(completer, summaryCache, cfg.AI.CommentSignature, logger.Named("summary")),
	})
	return reg, closeAll, nil
}

func trackerURL(cfg *config.Config) string {
	if cfg.Tracker.Kind == config.TrackerGitHub {
		return fmt.Sprintf("https://github.com/%s/%s", cfg.GitHub.Owner, cfg.GitHub.Repo)
	}
	return cfg.Redmine.URL
}

// NewScheduler builds the background scheduler over reg.
func NewScheduler(reg Registry, logger *zap.Logger) (*scheduler.Scheduler, error) {
	cfg := reg.Config()
	return scheduler.New(scheduler.Config{
		ResyncInterval: cfg.Scheduler.ResyncInterval.Duration(),
		PollInterval:   cfg.Scheduler.PollInterval.Duration(),
		JoinTimeout:    cfg.Scheduler.JoinTimeout.Duration(),
		Signature:      cfg.AI.CommentSignature,
		LockPath:       cfg.LockPath(),
	}, scheduler.Deps{
		Resyncer:    reg.Resyncer(),
		Poller:      reg.Source(),
		Generator:   reg.Synthesizer(),
		Pending:     reg.Ledger(),
		Checkpoints: reg.Checkpoints(),
		Settings:    reg.Settings(),
	}, logger)
}
