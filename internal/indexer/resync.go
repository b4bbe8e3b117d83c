package indexer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kkzk/remindmine/internal/tracker"
)

// Resyncer fetches every item from the tracker and reindexes it.
// Concurrent calls in the same mode share one run.
type Resyncer struct {
	source  tracker.Source
	indexer *Indexer
	logger  *zap.Logger
	group   singleflight.Group
}

// NewResyncer creates a Resyncer.
func NewResyncer(source tracker.Source, ix *Indexer, logger *zap.Logger) *Resyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resyncer{source: source, indexer: ix, logger: logger}
}

// Resync runs one reindex. force drops and rebuilds the collection.
//
// The shared run is detached from the caller's cancellation: a caller
// whose ctx ends returns ctx.Err() while the run carries on for anyone
// else waiting on it.
func (r *Resyncer) Resync(ctx context.Context, force bool) (int, error) {
	key := "incremental"
	if force {
		key = "full"
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		items, err := r.source.ListAllItems(flightCtx)
		if err != nil {
			return 0, fmt.Errorf("fetching items: %w", err)
		}
		return r.indexer.Reindex(flightCtx, items, force)
	})

	select {
	case <-ctx.Done():
		r.logger.Debug("resync caller gave up", zap.String("mode", key), zap.Error(ctx.Err()))
		return 0, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("joined in-flight resync", zap.String("mode", key))
		}
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	}
}

// Indexer returns the wrapped indexer.
func (r *Resyncer) Indexer() *Indexer { return r.indexer }
