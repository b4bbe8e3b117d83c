package http

import (
	"context"

	"github.com/kkzk/remindmine/internal/vectorstore"
)

// ListCollections describes every collection in store. active names the
// collection the indexer writes to. Collections that fail to report a
// count are listed with count -1.
func ListCollections(ctx context.Context, store vectorstore.Store, active string) ([]CollectionInfo, error) {
	names, err := store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		info := CollectionInfo{Name: name, Count: -1, Active: name == active}
		if n, err := store.Count(ctx, name); err == nil {
			info.Count = n
		}
		if tags, err := store.CollectionTags(ctx, name); err == nil && len(tags) > 0 {
			info.Tags = tags
		}
		out = append(out, info)
	}
	return out, nil
}
