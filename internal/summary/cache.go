package summary

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/jsonfile"
)

// DefaultCacheSize bounds how many summaries are kept.
const DefaultCacheSize = 1000

// Entry is one cached summary.
type Entry struct {
	IssueID      int       `json:"issue_id"`
	ContentHash  string    `json:"content_hash"`
	Summary      string    `json:"summary"`
	HasJournals  bool      `json:"has_journals"`
	JournalCount int       `json:"journal_count"`
	CachedAt     time.Time `json:"cached_at"`
}

// Cache is a bounded LRU of summaries mirrored to a JSON document.
// Least recently used entries are dropped from both.
type Cache struct {
	path   string
	logger *zap.Logger

	mu  sync.Mutex
	lru *lru.Cache[int, Entry]
}

// OpenCache loads the document at path. An empty path keeps the cache in
// memory only. An unreadable document is logged and ignored.
func OpenCache(path string, size int, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[int, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("creating summary cache: %w", err)
	}
	c := &Cache{path: path, logger: logger, lru: l}
	if path == "" {
		return c, nil
	}

	var stored map[string]Entry
	if err := jsonfile.Load(path, &stored); err != nil {
		if !errors.Is(err, jsonfile.ErrNotFound) {
			logger.Warn("summary cache unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return c, nil
	}

	// Oldest first, so the newest survive when the document exceeds size.
	entries := make([]Entry, 0, len(stored))
	for _, e := range stored {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CachedAt.Before(entries[j].CachedAt) })
	for _, e := range entries {
		c.lru.Add(e.IssueID, e)
	}
	logger.Info("loaded cached summaries", zap.Int("count", c.lru.Len()))
	return c, nil
}

// Get returns the summary of id if it was cached for hash.
func (c *Cache) Get(id int, hash string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(id)
	if !ok || e.ContentHash != hash {
		return Entry{}, false
	}
	return e, true
}

// Put stores e and writes the document.
func (c *Cache) Put(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(e.IssueID, e)
	return c.flush()
}

// Len returns the number of cached summaries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) flush() error {
	if c.path == "" {
		return nil
	}
	doc := make(map[string]Entry, c.lru.Len())
	for _, id := range c.lru.Keys() {
		if e, ok := c.lru.Peek(id); ok {
			doc[strconv.Itoa(id)] = e
		}
	}
	if err := jsonfile.Save(c.path, doc); err != nil {
		return fmt.Errorf("saving summary cache: %w", err)
	}
	return nil
}
