// Package vectorstore stores embedded chunks in named collections and
// answers nearest-neighbor queries over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel"
)

var (
	// ErrCollectionNotFound indicates the collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCollectionName indicates a collection name failed validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyChunks indicates Add was called with no chunks.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrConnectionFailed indicates the remote store could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// Tag keys recorded on collections.
const (
	TagSpace     = "hnsw:space"
	TagModel     = "embedding_model"
	TagDimension = "embedding_dimension"

	SpaceCosine = "cosine"
)

var tracer = otel.Tracer("remindmine.vectorstore")

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Chunk is one embedded text segment.
type Chunk struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}

// Match is a query hit. Distance is cosine distance, smaller is nearer.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// Store is a collection-oriented vector database.
type Store interface {
	// CreateOrGetCollection creates name with tags, or opens it unchanged
	// if it exists.
	CreateOrGetCollection(ctx context.Context, name string, tags map[string]string) error

	// DeleteCollection drops name. A missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// CollectionTags returns the tags recorded at creation.
	CollectionTags(ctx context.Context, name string) (map[string]string, error)

	// Add upserts chunks by id.
	Add(ctx context.Context, name string, chunks []Chunk) error

	// Query returns up to k matches, nearest first.
	Query(ctx context.Context, name string, vector []float32, k int) ([]Match, error)

	// DeleteWhere removes every chunk whose metadata matches all pairs.
	DeleteWhere(ctx context.Context, name string, where map[string]string) error

	// Count returns the number of chunks in name.
	Count(ctx context.Context, name string) (int, error)

	// ListCollections returns all collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases the store.
	Close() error
}
