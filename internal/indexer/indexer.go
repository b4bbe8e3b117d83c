// Package indexer mirrors tracker items into the vector store, embedding
// only items whose content changed since the previous run.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/chunk"
	"github.com/kkzk/remindmine/internal/embeddings"
	"github.com/kkzk/remindmine/internal/indexstate"
	"github.com/kkzk/remindmine/internal/normalize"
	"github.com/kkzk/remindmine/internal/tracker"
	"github.com/kkzk/remindmine/internal/vectorstore"
)

var (
	// ErrEmbeddingCountMismatch aborts a batch whose vector count differs
	// from its chunk count.
	ErrEmbeddingCountMismatch = errors.New("embedding count does not match chunk count")

	// ErrUnknownDimension means the provider could not report its dimension.
	ErrUnknownDimension = errors.New("embedding dimension unknown")
)

// DefaultCollection is the collection items are indexed into.
const DefaultCollection = "redmine_issues"

// Chunk metadata keys.
const (
	MetaItemID          = "item_id"
	MetaSubject         = "subject"
	MetaStatus          = "status"
	MetaPriority        = "priority"
	MetaTracker         = "tracker"
	MetaChunkIndex      = "chunk_index"
	MetaSourceType      = "source_type"
	MetaSourceID        = "source_id"
	MetaSourceUpdatedOn = "source_updated_on"

	sourceTypeIssue = "issue"
)

var tracer = otel.Tracer("remindmine.indexer")

// ChunkID is the deterministic id of chunk n of item id.
func ChunkID(id, n int) string {
	return fmt.Sprintf("item_%d_chunk_%d", id, n)
}

// Config configures an Indexer.
type Config struct {
	// Collection defaults to DefaultCollection.
	Collection string

	// Splitter defaults to chunk.Default().
	Splitter *chunk.Splitter
}

// Indexer performs incremental reindexing. Calls to Reindex are
// serialized.
type Indexer struct {
	store      vectorstore.Store
	provider   embeddings.Provider
	state      *indexstate.Store
	splitter   *chunk.Splitter
	collection string
	logger     *zap.Logger

	mu sync.Mutex
}

// New creates an Indexer.
func New(store vectorstore.Store, provider embeddings.Provider, state *indexstate.Store, cfg Config, logger *zap.Logger) (*Indexer, error) {
	if store == nil || provider == nil || state == nil {
		return nil, errors.New("indexer requires a store, a provider and a state store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if err := vectorstore.ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.Splitter == nil {
		cfg.Splitter = chunk.Default()
	}
	return &Indexer{
		store:      store,
		provider:   provider,
		state:      state,
		splitter:   cfg.Splitter,
		collection: cfg.Collection,
		logger:     logger,
	}, nil
}

// Collection is the indexed collection name.
func (ix *Indexer) Collection() string { return ix.collection }

// Tags returns the collection tags for the current provider.
func (ix *Indexer) Tags(dim int) map[string]string {
	return map[string]string{
		vectorstore.TagSpace:     vectorstore.SpaceCosine,
		vectorstore.TagModel:     ix.provider.ModelID(),
		vectorstore.TagDimension: strconv.Itoa(dim),
	}
}

type staged struct {
	item   tracker.Item
	hash   string
	chunks []vectorstore.Chunk
}

// Reindex brings the collection in line with items and returns the number
// of chunks added. An empty item list is treated as a failed fetch and
// changes nothing.
func (ix *Indexer) Reindex(ctx context.Context, items []tracker.Item, force bool) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ctx, span := tracer.Start(ctx, "Indexer.Reindex")
	defer span.End()
	span.SetAttributes(
		attribute.Int("item_count", len(items)),
		attribute.Bool("force", force),
	)

	start := time.Now()
	defer func() { ReindexDuration.Observe(time.Since(start).Seconds()) }()

	added, err := ix.reindex(ctx, items, force)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int("chunks_added", added))
	span.SetStatus(codes.Ok, "success")
	return added, nil
}

func (ix *Indexer) reindex(ctx context.Context, items []tracker.Item, force bool) (int, error) {
	if len(items) == 0 {
		ix.logger.Info("no items to index")
		return 0, nil
	}

	model := ix.provider.ModelID()
	dim := ix.provider.Dimension()
	if dim <= 0 {
		ReindexErrors.WithLabelValues("state").Inc()
		return 0, fmt.Errorf("%w for model %s", ErrUnknownDimension, model)
	}

	st, err := ix.state.Load()
	if err != nil {
		ReindexErrors.WithLabelValues("state").Inc()
		return 0, fmt.Errorf("loading index state: %w", err)
	}

	fullRebuild, reason := ix.needsRebuild(ctx, st, model, dim, force)
	if fullRebuild {
		if err := ix.rebuild(ctx, st, model, dim, reason); err != nil {
			ReindexErrors.WithLabelValues("collection").Inc()
			return 0, err
		}
	} else if err := ix.store.CreateOrGetCollection(ctx, ix.collection, ix.Tags(dim)); err != nil {
		ReindexErrors.WithLabelValues("collection").Inc()
		return 0, fmt.Errorf("opening collection: %w", err)
	}

	ix.dropVanished(ctx, st, items)

	var (
		batch    []staged
		chunks   []vectorstore.Chunk
		skipped  int
		invalids int
	)
	for _, item := range items {
		if err := item.Validate(); err != nil {
			invalids++
			continue
		}
		text := normalize.Text(item)
		hash := normalize.Fingerprint(text)
		if prev, ok := st.Get(item.ID); ok && prev.Hash == hash && !fullRebuild {
			skipped++
			continue
		}

		parts, err := ix.splitter.Split(text)
		if err != nil {
			ReindexErrors.WithLabelValues("chunk").Inc()
			return 0, fmt.Errorf("chunking item %d: %w", item.ID, err)
		}
		s := staged{item: item, hash: hash, chunks: make([]vectorstore.Chunk, len(parts))}
		for n, part := range parts {
			s.chunks[n] = vectorstore.Chunk{
				ID:       ChunkID(item.ID, n),
				Text:     part,
				Metadata: chunkMetadata(item, n),
			}
		}
		batch = append(batch, s)
		chunks = append(chunks, s.chunks...)
	}
	ItemsSkipped.Add(float64(skipped))
	if invalids > 0 {
		ix.logger.Warn("skipped invalid items", zap.Int("count", invalids))
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := ix.provider.EmbedDocuments(ctx, texts)
		if err != nil {
			ReindexErrors.WithLabelValues("embed").Inc()
			ix.logger.Error("embedding batch failed", zap.Int("chunks", len(chunks)), zap.Error(err))
			return 0, fmt.Errorf("embedding chunks: %w", err)
		}
		if len(vectors) != len(chunks) {
			ReindexErrors.WithLabelValues("embed").Inc()
			ix.logger.Error("embedding count mismatch, batch aborted",
				zap.Int("chunks", len(chunks)),
				zap.Int("vectors", len(vectors)),
			)
			return 0, fmt.Errorf("%w: %d vectors for %d chunks", ErrEmbeddingCountMismatch, len(vectors), len(chunks))
		}
		for i := range chunks {
			chunks[i].Vector = vectors[i]
		}
	}

	// Old chunks go only once the replacements are embedded. An item whose
	// text shrank to fewer chunks would otherwise keep its stale tail.
	for _, s := range batch {
		if _, known := st.Get(s.item.ID); !known || fullRebuild {
			continue
		}
		if err := ix.store.DeleteWhere(ctx, ix.collection, itemFilter(s.item.ID)); err != nil {
			ReindexErrors.WithLabelValues("store").Inc()
			return 0, fmt.Errorf("deleting old chunks of item %d: %w", s.item.ID, err)
		}
	}

	if len(chunks) > 0 {
		if err := ix.store.Add(ctx, ix.collection, chunks); err != nil {
			ReindexErrors.WithLabelValues("store").Inc()
			return 0, fmt.Errorf("adding chunks: %w", err)
		}
	}

	for _, s := range batch {
		st.Put(s.item.ID, indexstate.ItemState{
			Hash:       s.hash,
			ChunkCount: len(s.chunks),
			UpdatedOn:  formatTime(s.item.UpdatedOn),
		})
	}
	st.EmbeddingModel = model
	st.EmbeddingDimension = dim
	if err := ix.state.Save(st); err != nil {
		ReindexErrors.WithLabelValues("state").Inc()
		return 0, fmt.Errorf("saving index state: %w", err)
	}

	ChunksAdded.Add(float64(len(chunks)))
	ix.logger.Info("reindex complete",
		zap.Int("items", len(items)),
		zap.Int("changed", len(batch)),
		zap.Int("skipped", skipped),
		zap.Int("chunks_added", len(chunks)),
		zap.Bool("full_rebuild", fullRebuild),
	)
	return len(chunks), nil
}

// needsRebuild decides whether the collection must be dropped.
func (ix *Indexer) needsRebuild(ctx context.Context, st *indexstate.State, model string, dim int, force bool) (bool, string) {
	if force {
		return true, "forced"
	}
	if !st.ModelMatches(model, dim) {
		ix.logger.Info("embedding model changed, rebuilding",
			zap.String("previous_model", st.EmbeddingModel),
			zap.Int("previous_dimension", st.EmbeddingDimension),
			zap.String("model", model),
			zap.Int("dimension", dim),
		)
		return true, "model_changed"
	}

	tags, err := ix.store.CollectionTags(ctx, ix.collection)
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		if st.Len() > 0 {
			ix.logger.Warn("collection missing for a non-empty index state, rebuilding")
			return true, "collection_mismatch"
		}
	case err != nil:
		ix.logger.Warn("reading collection tags failed", zap.Error(err))
	default:
		if d, ok := tags[vectorstore.TagDimension]; ok && d != strconv.Itoa(dim) {
			ix.logger.Warn("collection dimension differs from provider, rebuilding",
				zap.String("collection_dimension", d),
				zap.Int("dimension", dim),
			)
			return true, "collection_mismatch"
		}
	}
	return false, ""
}

// rebuild drops and recreates the collection and persists the reset state
// at once, so a later failure cannot leave entries for dropped chunks.
func (ix *Indexer) rebuild(ctx context.Context, st *indexstate.State, model string, dim int, reason string) error {
	FullRebuilds.WithLabelValues(reason).Inc()
	ix.logger.Info("full rebuild", zap.String("reason", reason), zap.String("collection", ix.collection))

	if err := ix.store.DeleteCollection(ctx, ix.collection); err != nil {
		return fmt.Errorf("dropping collection: %w", err)
	}
	if err := ix.store.CreateOrGetCollection(ctx, ix.collection, ix.Tags(dim)); err != nil {
		return fmt.Errorf("recreating collection: %w", err)
	}
	st.Reset(model, dim)
	if err := ix.state.Save(st); err != nil {
		return fmt.Errorf("saving reset index state: %w", err)
	}
	return nil
}

// dropVanished removes items known to the state but absent upstream.
// Failures are logged and the entry is kept for the next run.
func (ix *Indexer) dropVanished(ctx context.Context, st *indexstate.State, items []tracker.Item) {
	latest := make(map[int]struct{}, len(items))
	for _, it := range items {
		latest[it.ID] = struct{}{}
	}
	for _, id := range st.IDs() {
		if _, ok := latest[id]; ok {
			continue
		}
		if err := ix.store.DeleteWhere(ctx, ix.collection, itemFilter(id)); err != nil {
			ix.logger.Warn("failed to delete vanished item", zap.Int("item_id", id), zap.Error(err))
			continue
		}
		st.Delete(id)
		ItemsDeleted.Inc()
		ix.logger.Debug("deleted vanished item", zap.Int("item_id", id))
	}
}

func itemFilter(id int) map[string]string {
	return map[string]string{MetaItemID: strconv.Itoa(id)}
}

func chunkMetadata(item tracker.Item, n int) map[string]string {
	id := strconv.Itoa(item.ID)
	return map[string]string{
		MetaItemID:          id,
		MetaSubject:         item.Subject,
		MetaStatus:          item.Status,
		MetaPriority:        item.Priority,
		MetaTracker:         item.Tracker,
		MetaChunkIndex:      strconv.Itoa(n),
		MetaSourceType:      sourceTypeIssue,
		MetaSourceID:        id,
		MetaSourceUpdatedOn: formatTime(item.UpdatedOn),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Stats describes the current index.
type Stats struct {
	Collection         string `json:"collection"`
	TotalChunks        int    `json:"total_chunks"`
	TotalItems         int    `json:"total_issues"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}

// Stats reports chunk and item counts. A missing collection counts as empty.
func (ix *Indexer) Stats(ctx context.Context) (Stats, error) {
	st, err := ix.state.Load()
	if err != nil {
		return Stats{}, err
	}
	n, err := ix.store.Count(ctx, ix.collection)
	if err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return Stats{}, fmt.Errorf("counting chunks: %w", err)
	}
	return Stats{
		Collection:         ix.collection,
		TotalChunks:        n,
		TotalItems:         st.Len(),
		EmbeddingModel:     st.EmbeddingModel,
		EmbeddingDimension: st.EmbeddingDimension,
	}, nil
}
