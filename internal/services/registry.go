package services

import (
	"github.com/kkzk/remindmine/internal/advice"
	"github.com/kkzk/remindmine/internal/checkpoint"
	"github.com/kkzk/remindmine/internal/config"
	"github.com/kkzk/remindmine/internal/embeddings"
	"github.com/kkzk/remindmine/internal/indexer"
	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/llm"
	"github.com/kkzk/remindmine/internal/retrieval"
	"github.com/kkzk/remindmine/internal/scheduler"
	"github.com/kkzk/remindmine/internal/summary"
	"github.com/kkzk/remindmine/internal/tracker"
	"github.com/kkzk/remindmine/internal/vectorstore"
)

// Registry provides access to all remindmine services.
type Registry interface {
	Config() *config.Config
	Source() tracker.Source
	VectorStore() vectorstore.Store
	Embedder() embeddings.Provider
	Indexer() *indexer.Indexer
	Resyncer() *indexer.Resyncer
	Retriever() *retrieval.Retriever
	Completer() llm.Completer
	Templates() *advice.Templates
	Synthesizer() *advice.Synthesizer
	Reviewer() *advice.Reviewer
	Ledger() *ledger.Ledger
	Checkpoints() *checkpoint.Store
	Settings() *scheduler.Settings
	Summarizer() *summary.Summarizer
}

// Options configures the registry with service instances.
type Options struct {
	Config      *config.Config
	Source      tracker.Source
	VectorStore vectorstore.Store
	Embedder    embeddings.Provider
	Indexer     *indexer.Indexer
	Resyncer    *indexer.Resyncer
	Retriever   *retrieval.Retriever
	Completer   llm.Completer
	Templates   *advice.Templates
	Synthesizer *advice.Synthesizer
	Reviewer    *advice.Reviewer
	Ledger      *ledger.Ledger
	Checkpoints *checkpoint.Store
	Settings    *scheduler.Settings
	Summarizer  *summary.Summarizer
}

type registry struct {
	opts Options
}

// NewRegistry creates a registry over opts.
func NewRegistry(opts Options) Registry {
	return &registry{opts: opts}
}

func (r *registry) Config() *config.Config           { return r.opts.Config }
func (r *registry) Source() tracker.Source           { return r.opts.Source }
func (r *registry) VectorStore() vectorstore.Store   { return r.opts.VectorStore }
func (r *registry) Embedder() embeddings.Provider    { return r.opts.Embedder }
func (r *registry) Indexer() *indexer.Indexer        { return r.opts.Indexer }
func (r *registry) Resyncer() *indexer.Resyncer      { return r.opts.Resyncer }
func (r *registry) Retriever() *retrieval.Retriever  { return r.opts.Retriever }
func (r *registry) Completer() llm.Completer         { return r.opts.Completer }
func (r *registry) Templates() *advice.Templates     { return r.opts.Templates }
func (r *registry) Synthesizer() *advice.Synthesizer { return r.opts.Synthesizer }
func (r *registry) Reviewer() *advice.Reviewer       { return r.opts.Reviewer }
func (r *registry) Ledger() *ledger.Ledger           { return r.opts.Ledger }
func (r *registry) Checkpoints() *checkpoint.Store   { return r.opts.Checkpoints }
func (r *registry) Settings() *scheduler.Settings    { return r.opts.Settings }
func (r *registry) Summarizer() *summary.Summarizer  { return r.opts.Summarizer }
