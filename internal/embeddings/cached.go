package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of query vectors kept in memory.
const DefaultCacheSize = 512

// CachedProvider caches query embeddings in an LRU. Document batches pass
// through unchanged so the indexer always sees the provider's real output.
type CachedProvider struct {
	Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps p with an LRU of size entries.
func NewCachedProvider(p Provider, size int) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedProvider{Provider: p, cache: cache}
}

func (c *CachedProvider) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.ModelID()))
	return hex.EncodeToString(hash[:])
}

// EmbedQuery returns the cached vector when present.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// Len is the number of cached queries.
func (c *CachedProvider) Len() int { return c.cache.Len() }
