package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkzk/remindmine/internal/chunk"
	"github.com/kkzk/remindmine/internal/embeddings"
	"github.com/kkzk/remindmine/internal/indexstate"
	"github.com/kkzk/remindmine/internal/tracker"
	"github.com/kkzk/remindmine/internal/vectorstore"
)

type fixture struct {
	store    *vectorstore.ChromemStore
	provider *embeddings.Fake
	state    *indexstate.Store
	ix       *Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	provider := embeddings.NewFake("fake-model", 64)
	state := indexstate.NewStore(filepath.Join(t.TempDir(), "index_state.json"), nil)
	ix, err := New(store, provider, state, Config{}, nil)
	require.NoError(t, err)
	return &fixture{store: store, provider: provider, state: state, ix: ix}
}

func item(id int, desc string) tracker.Item {
	return tracker.Item{
		ID:          id,
		Subject:     fmt.Sprintf("Item %d", id),
		Description: desc,
		Status:      "New",
		Priority:    "Normal",
		Tracker:     "Bug",
		UpdatedOn:   time.Date(2024, 5, 1, 0, 0, id, 0, time.UTC),
	}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.Count(context.Background(), DefaultCollection)
	require.NoError(t, err)
	return n
}

func (f *fixture) chunksOf(t *testing.T, id int) []vectorstore.Match {
	t.Helper()
	ctx := context.Background()
	n := f.count(t)
	if n == 0 {
		return nil
	}
	q, err := f.provider.EmbedQuery(ctx, "anything")
	require.NoError(t, err)
	all, err := f.store.Query(ctx, DefaultCollection, q, n)
	require.NoError(t, err)
	var out []vectorstore.Match
	for _, m := range all {
		if m.Metadata[MetaItemID] == fmt.Sprint(id) {
			out = append(out, m)
		}
	}
	return out
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "item_10_chunk_0", ChunkID(10, 0))
	assert.Equal(t, "item_7_chunk_12", ChunkID(7, 12))
}

func TestReindex_FirstRunIndexesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.ix.Reindex(ctx, []tracker.Item{item(10, "description of item 10"), item(20, "description of item 20")}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, f.count(t))

	st, err := f.state.Load()
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, st.IDs())
	assert.Equal(t, "fake-model", st.EmbeddingModel)
	assert.Equal(t, 64, st.EmbeddingDimension)
	e, _ := st.Get(10)
	assert.Equal(t, 1, e.ChunkCount)
	assert.Equal(t, "2024-05-01T00:00:10Z", e.UpdatedOn)

	tags, err := f.store.CollectionTags(ctx, DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		vectorstore.TagSpace:     vectorstore.SpaceCosine,
		vectorstore.TagModel:     "fake-model",
		vectorstore.TagDimension: "64",
	}, tags)

	chunks := f.chunksOf(t, 10)
	require.Len(t, chunks, 1)
	assert.Equal(t, "item_10_chunk_0", chunks[0].ID)
	md := chunks[0].Metadata
	assert.Equal(t, "Item 10", md[MetaSubject])
	assert.Equal(t, "New", md[MetaStatus])
	assert.Equal(t, "Normal", md[MetaPriority])
	assert.Equal(t, "Bug", md[MetaTracker])
	assert.Equal(t, "0", md[MetaChunkIndex])
	assert.Equal(t, "issue", md[MetaSourceType])
	assert.Equal(t, "10", md[MetaSourceID])
	assert.Equal(t, "2024-05-01T00:00:10Z", md[MetaSourceUpdatedOn])
}

func TestReindex_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []tracker.Item{item(1, "alpha"), item(2, "beta")}

	_, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)
	_, embedded := f.provider.Stats()
	skippedBefore := testutil.ToFloat64(ItemsSkipped)

	added, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, f.count(t))

	_, embeddedAfter := f.provider.Stats()
	assert.Equal(t, embedded, embeddedAfter, "unchanged items must not be re-embedded")
	assert.Equal(t, 2.0, testutil.ToFloat64(ItemsSkipped)-skippedBefore)
}

func TestReindex_ChangeDetectionReplacesChunks(t *testing.T) {
	f := newFixture(t)
	splitter, err := chunk.New(120, 20)
	require.NoError(t, err)
	f.ix.splitter = splitter
	ctx := context.Background()

	long := strings.Repeat("The printer on the third floor keeps jamming. ", 12)
	_, err = f.ix.Reindex(ctx, []tracker.Item{item(5, long), item(6, "other")}, false)
	require.NoError(t, err)
	before := len(f.chunksOf(t, 5))
	require.Greater(t, before, 2)

	added, err := f.ix.Reindex(ctx, []tracker.Item{item(5, "short now"), item(6, "other")}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	chunks := f.chunksOf(t, 5)
	require.Len(t, chunks, 1, "stale chunks of the old content must be gone")
	assert.Contains(t, chunks[0].Text, "short now")

	st, err := f.state.Load()
	require.NoError(t, err)
	e, _ := st.Get(5)
	assert.Equal(t, 1, e.ChunkCount)
	assert.Len(t, f.chunksOf(t, 6), 1)
}

func TestReindex_DeletionPropagation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "a"), item(2, "b"), item(3, "c")}, false)
	require.NoError(t, err)

	deletedBefore := testutil.ToFloat64(ItemsDeleted)
	added, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "a"), item(3, "c")}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Empty(t, f.chunksOf(t, 2))
	assert.Equal(t, 2, f.count(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(ItemsDeleted)-deletedBefore)

	st, err := f.state.Load()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, st.IDs())
}

func TestReindex_DimensionChangeForcesRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []tracker.Item{item(1, "a"), item(2, "b")}

	_, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)

	f.provider.Dim = 32
	rebuildsBefore := testutil.ToFloat64(FullRebuilds.WithLabelValues("model_changed"))
	added, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)
	assert.Equal(t, 2, added, "every item is new after a dimension change")
	assert.Equal(t, 2, f.count(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(FullRebuilds.WithLabelValues("model_changed"))-rebuildsBefore)

	tags, err := f.store.CollectionTags(ctx, DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, "32", tags[vectorstore.TagDimension])

	st, err := f.state.Load()
	require.NoError(t, err)
	assert.Equal(t, 32, st.EmbeddingDimension)
}

func TestReindex_ModelChangeForcesRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []tracker.Item{item(1, "a")}

	_, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)

	f.provider.Model = "another-model"
	added, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestReindex_ForceRebuild(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []tracker.Item{item(1, "a"), item(2, "b")}

	_, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)
	added, err := f.ix.Reindex(ctx, items, true)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, f.count(t))
}

func TestReindex_MissingCollectionRebuilds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	items := []tracker.Item{item(1, "a")}

	_, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteCollection(ctx, DefaultCollection))

	added, err := f.ix.Reindex(ctx, items, false)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, f.count(t))
}

func TestReindex_CountMismatchAbortsWithoutWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "a")}, false)
	require.NoError(t, err)
	stBefore, err := f.state.Load()
	require.NoError(t, err)

	f.provider.DropLast = true
	added, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "changed"), item(2, "b")}, false)
	assert.ErrorIs(t, err, ErrEmbeddingCountMismatch)
	assert.Equal(t, 0, added)

	assert.Equal(t, 1, f.count(t))
	chunks := f.chunksOf(t, 1)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "説明: a")

	stAfter, err := f.state.Load()
	require.NoError(t, err)
	assert.Equal(t, stBefore, stAfter)

	// The next healthy run retries both items.
	f.provider.DropLast = false
	added, err = f.ix.Reindex(ctx, []tracker.Item{item(1, "changed"), item(2, "b")}, false)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
}

func TestReindex_EmbeddingFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "a")}, false)
	require.NoError(t, err)

	boom := errors.New("ollama unreachable")
	f.provider.SetErr(boom)
	added, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "a"), item(2, "b")}, false)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, added)

	st, err := f.state.Load()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, st.IDs())
	assert.Equal(t, 1, f.count(t))
}

func TestReindex_FullRebuildPersistsResetBeforeEmbedding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "a"), item(2, "b")}, false)
	require.NoError(t, err)

	f.provider.SetErr(errors.New("down"))
	_, err = f.ix.Reindex(ctx, []tracker.Item{item(1, "a"), item(2, "b")}, true)
	require.Error(t, err)

	st, err := f.state.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.Len(), "no entries may point into the dropped collection")
	assert.Equal(t, 0, f.count(t))
}

func TestReindex_EmptyItemListChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ix.Reindex(ctx, []tracker.Item{item(1, "a")}, false)
	require.NoError(t, err)
	added, err := f.ix.Reindex(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 1, f.count(t))
}

func TestReindex_SkipsInvalidItems(t *testing.T) {
	f := newFixture(t)
	added, err := f.ix.Reindex(context.Background(), []tracker.Item{item(0, "bad"), item(4, "ok")}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestReindex_UnknownDimension(t *testing.T) {
	f := newFixture(t)
	f.provider.Dim = 0
	_, err := f.ix.Reindex(context.Background(), []tracker.Item{item(1, "a")}, false)
	assert.ErrorIs(t, err, ErrUnknownDimension)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.TotalChunks)

	_, err = f.ix.Reindex(ctx, []tracker.Item{item(1, "a"), item(2, "b")}, false)
	require.NoError(t, err)
	s, err = f.ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Collection:         DefaultCollection,
		TotalChunks:        2,
		TotalItems:         2,
		EmbeddingModel:     "fake-model",
		EmbeddingDimension: 64,
	}, s)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, nil, Config{}, nil)
	assert.Error(t, err)

	f := newFixture(t)
	_, err = New(f.store, f.provider, f.state, Config{Collection: "Bad-Name"}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)
}
