package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var errNoEmbeddingFunc = errors.New("chromem store only accepts precomputed vectors")

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// TagRegistryPath is the sidecar file for collection tags.
	TagRegistryPath string
}

// ChromemStore implements Store with chromem-go. chromem compares
// normalized vectors by dot product, which is cosine similarity.
type ChromemStore struct {
	db     *chromem.DB
	tags   *TagRegistry
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore opens or creates the store.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	tags, err := OpenTagRegistry(config.TagRegistryPath)
	if err != nil {
		return nil, err
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{db: db, tags: tags, config: config, logger: logger}, nil
}

// embeddingFunc must not be nil: chromem substitutes its OpenAI default
// for persisted collections opened without one.
func embeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	c := s.db.GetCollection(name, embeddingFunc)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return c, nil
}

// CreateOrGetCollection implements Store.
func (s *ChromemStore) CreateOrGetCollection(ctx context.Context, name string, tags map[string]string) error {
	_, span := tracer.Start(ctx, "ChromemStore.CreateOrGetCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, err := s.db.GetOrCreateCollection(name, tags, embeddingFunc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	if err := s.tags.SetIfAbsent(name, tags); err != nil {
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteCollection implements Store.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	_, span := tracer.Start(ctx, "ChromemStore.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	if err := s.tags.Delete(name); err != nil {
		return err
	}

	s.logger.Info("deleted chromem collection", zap.String("collection", name))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionTags implements Store.
func (s *ChromemStore) CollectionTags(ctx context.Context, name string) (map[string]string, error) {
	if _, err := s.collection(name); err != nil {
		return nil, err
	}
	tags, _ := s.tags.Get(name)
	if tags == nil {
		tags = map[string]string{}
	}
	return tags, nil
}

// Add implements Store.
func (s *ChromemStore) Add(ctx context.Context, name string, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	c, err := s.collection(name)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:        ch.ID,
			Content:   ch.Text,
			Metadata:  ch.Metadata,
			Embedding: ch.Vector,
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to %s: %w", name, err)
	}

	s.logger.Debug("added chunks to chromem",
		zap.String("collection", name),
		zap.Int("count", len(chunks)),
	)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query implements Store.
func (s *ChromemStore) Query(ctx context.Context, name string, vector []float32, k int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	c, err := s.collection(name)
	if err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count.
	n := c.Count()
	if n == 0 {
		return []Match{}, nil
	}
	if k > n {
		k = n
	}

	results, err := c.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: r.Metadata,
			Distance: 1 - float64(r.Similarity),
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// DeleteWhere implements Store. A missing collection holds nothing to delete.
func (s *ChromemStore) DeleteWhere(ctx context.Context, name string, where map[string]string) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteWhere")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if len(where) == 0 {
		return fmt.Errorf("delete filter cannot be empty")
	}
	c, err := s.collection(name)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count implements Store.
func (s *ChromemStore) Count(ctx context.Context, name string) (int, error) {
	c, err := s.collection(name)
	if err != nil {
		return 0, err
	}
	return c.Count(), nil
}

// ListCollections implements Store.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Store. chromem persists on every write.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}
