package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Payload keys carrying the chunk itself.
const (
	payloadChunkID = "chunk_id"
	payloadText    = "document"
)

// chunkNamespace derives stable point ids from chunk ids.
var chunkNamespace = uuid.MustParse("6f1c3a0e-8d2b-4f57-9a41-2c7e5b9d0a13")

// QdrantConfig configures the Qdrant gRPC store.
//
// Host and Port address Qdrant's gRPC listener (6334 by default), not the
// REST port.
type QdrantConfig struct {
	Host   string
	Port   int
	UseTLS bool
	APIKey string

	// MaxMessageSize is the gRPC message limit in bytes. Default: 50MB.
	MaxMessageSize int

	// TagRegistryPath is the sidecar file for collection tags.
	TagRegistryPath string
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// Chunk ids are mapped to deterministic UUID point ids with PointID, and
// the original id is kept in the payload next to the chunk text and its
// metadata. DeleteWhere filters on those payload keys.
//
// Qdrant has no per-collection metadata, so collection tags such as the
// embedding model and dimension live in a TagRegistry sidecar file.
type QdrantStore struct {
	client *qdrant.Client
	tags   *TagRegistry
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrantStore creates a QdrantStore with the given configuration.
//
// The constructor performs the following steps:
//  1. Applies defaults and validates configuration
//  2. Creates the Qdrant gRPC client
//  3. Opens the collection tag registry
//  4. Performs a health check
//
// Returns an error wrapping ErrInvalidConfig or ErrConnectionFailed when
// a step fails. The client is closed on every error path.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, TLS disabled")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	tags, err := OpenTagRegistry(config.TagRegistryPath)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	store := &QdrantStore{client: client, tags: tags, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("tls", config.UseTLS),
	)
	return store, nil
}

// PointID maps a chunk id to its deterministic Qdrant UUID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

func (s *QdrantStore) exists(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	ok, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return nil
}

// CreateOrGetCollection implements Store. Creating a collection needs the
// embedding_dimension tag to size its vectors.
func (s *QdrantStore) CreateOrGetCollection(ctx context.Context, name string, tags map[string]string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.CreateOrGetCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	ok, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !ok {
		dim, err := strconv.Atoi(tags[TagDimension])
		if err != nil || dim <= 0 {
			return fmt.Errorf("%w: collection %s needs a positive %s tag", ErrInvalidConfig, name, TagDimension)
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info("created qdrant collection", zap.String("collection", name), zap.Int("vector_size", dim))
	}
	if err := s.tags.SetIfAbsent(name, tags); err != nil {
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteCollection implements Store.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil && !isNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	if err := s.tags.Delete(name); err != nil {
		return err
	}
	s.logger.Info("deleted qdrant collection", zap.String("collection", name))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionTags implements Store.
func (s *QdrantStore) CollectionTags(ctx context.Context, name string) (map[string]string, error) {
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}
	tags, _ := s.tags.Get(name)
	if tags == nil {
		tags = map[string]string{}
	}
	return tags, nil
}

// Add implements Store.
func (s *QdrantStore) Add(ctx context.Context, name string, chunks []Chunk) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, ch := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(ch.ID)),
			Vectors: qdrant.NewVectors(ch.Vector...),
			Payload: toPayload(ch),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return fmt.Errorf("upserting points to %s: %w", name, err)
	}

	s.logger.Debug("added chunks to qdrant", zap.String("collection", name), zap.Int("count", len(chunks)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query implements Store. Qdrant scores cosine collections by similarity.
func (s *QdrantStore) Query(ctx context.Context, name string, vector []float32, k int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if err := s.exists(ctx, name); err != nil {
		return nil, err
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		m := fromPayload(p.GetPayload())
		m.Distance = 1 - float64(p.GetScore())
		matches = append(matches, m)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// DeleteWhere implements Store.
func (s *QdrantStore) DeleteWhere(ctx context.Context, name string, where map[string]string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteWhere")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if len(where) == 0 {
		return fmt.Errorf("delete filter cannot be empty")
	}
	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	selector := &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: whereFilter(where)},
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         selector,
	})
	if err != nil && !isNotFound(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Count implements Store.
func (s *QdrantStore) Count(ctx context.Context, name string) (int, error) {
	if err := s.exists(ctx, name); err != nil {
		return 0, err
	}
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", name, err)
	}
	return int(n), nil
}

// ListCollections implements Store.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func toPayload(ch Chunk) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(ch.Metadata)+2)
	for k, v := range ch.Metadata {
		payload[k] = stringValue(v)
	}
	payload[payloadChunkID] = stringValue(ch.ID)
	payload[payloadText] = stringValue(ch.Text)
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) Match {
	m := Match{Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadChunkID:
			m.ID = v.GetStringValue()
		case payloadText:
			m.Text = v.GetStringValue()
		default:
			m.Metadata[k] = v.GetStringValue()
		}
	}
	return m
}

func whereFilter(where map[string]string) *qdrant.Filter {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		conds = append(conds, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: k,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: where[k]},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conds}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}
