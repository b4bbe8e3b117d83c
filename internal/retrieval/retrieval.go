// Package retrieval finds indexed chunks similar to a query.
package retrieval

import (
	"context"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/embeddings"
	"github.com/kkzk/remindmine/internal/indexer"
	"github.com/kkzk/remindmine/internal/vectorstore"
)

// overFetch widens the candidate set when one item is excluded. It is a
// heuristic: many chunks of the excluded item can still crowd out others.
const overFetch = 3

var tracer = otel.Tracer("remindmine.retrieval")

// Result is one similar chunk.
type Result struct {
	Text       string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float64           `json:"similarity"`
	ItemID     int               `json:"issue_id"`
}

// Retriever searches one collection.
type Retriever struct {
	store      vectorstore.Store
	provider   embeddings.Provider
	collection string
	logger     *zap.Logger
}

// New creates a Retriever over collection.
func New(store vectorstore.Store, provider embeddings.Provider, collection string, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collection == "" {
		collection = indexer.DefaultCollection
	}
	return &Retriever{store: store, provider: provider, collection: collection, logger: logger}
}

// Search returns up to limit chunks nearest to query, skipping chunks of
// excludeID when set. Every failure is logged and yields an empty result.
func (r *Retriever) Search(ctx context.Context, query string, limit int, excludeID *int) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	if limit <= 0 {
		return []Result{}, nil
	}

	vec, err := r.provider.EmbedQuery(ctx, query)
	if err != nil {
		r.logger.Error("embedding query failed", zap.Error(err))
		span.RecordError(err)
		return []Result{}, nil
	}

	tags, err := r.store.CollectionTags(ctx, r.collection)
	if err != nil {
		if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
			r.logger.Error("reading collection tags failed", zap.String("collection", r.collection), zap.Error(err))
		}
		return []Result{}, nil
	}
	if d, ok := tags[vectorstore.TagDimension]; ok && d != strconv.Itoa(len(vec)) {
		r.logger.Error("embedding dimension mismatch",
			zap.String("collection", r.collection),
			zap.String("stored_dimension", d),
			zap.Int("query_dimension", len(vec)),
		)
		return []Result{}, nil
	}

	k := limit
	exclude := ""
	if excludeID != nil {
		k = limit * overFetch
		exclude = strconv.Itoa(*excludeID)
		span.SetAttributes(attribute.Int("exclude_id", *excludeID))
	}

	matches, err := r.store.Query(ctx, r.collection, vec, k)
	if err != nil {
		r.logger.Error("vector query failed", zap.String("collection", r.collection), zap.Error(err))
		span.RecordError(err)
		return []Result{}, nil
	}

	results := make([]Result, 0, limit)
	for _, m := range matches {
		if excludeID != nil && m.Metadata[indexer.MetaItemID] == exclude {
			continue
		}
		id, _ := strconv.Atoi(m.Metadata[indexer.MetaItemID])
		results = append(results, Result{
			Text:       m.Text,
			Metadata:   m.Metadata,
			Similarity: 1 - m.Distance,
			ItemID:     id,
		})
		if len(results) == limit {
			break
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}
