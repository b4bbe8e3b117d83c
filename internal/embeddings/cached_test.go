package embeddings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkzk/remindmine/internal/telemetry"
)

func TestCachedProvider_CachesQueriesOnly(t *testing.T) {
	fake := NewFake("fake-model", 16)
	c := NewCachedProvider(fake, 2)
	ctx := context.Background()

	a, err := c.EmbedQuery(ctx, "printer")
	require.NoError(t, err)
	b, err := c.EmbedQuery(ctx, "printer")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	calls, _ := fake.Stats()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())

	_, err = c.EmbedDocuments(ctx, []string{"printer"})
	require.NoError(t, err)
	_, err = c.EmbedDocuments(ctx, []string{"printer"})
	require.NoError(t, err)
	calls, _ = fake.Stats()
	assert.Equal(t, 3, calls)

	assert.Equal(t, "fake-model", c.ModelID())
	assert.Equal(t, 16, c.Dimension())
}

func TestCachedProvider_EvictsAndSkipsErrors(t *testing.T) {
	fake := NewFake("fake-model", 8)
	c := NewCachedProvider(fake, 1)
	ctx := context.Background()

	_, err := c.EmbedQuery(ctx, "one")
	require.NoError(t, err)
	_, err = c.EmbedQuery(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = c.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, 1, c.Len())
}

func TestInstrumentedProvider_RecordsMetrics(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m := NewMetrics(tel.Meter("embeddings"), nil)
	fake := NewFake("fake-model", 8)
	p := Instrument(fake, m)
	ctx := context.Background()

	_, err := p.EmbedDocuments(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	_, err = p.EmbedQuery(ctx, "")
	require.Error(t, err)

	errs := tel.Metric(ctx, "remindmine.embedding.errors_total")
	require.NotNil(t, errs)
	assert.Equal(t, int64(1), telemetry.Int64Sum(errs))
	assert.True(t, telemetry.HasAttribute(errs, "operation", "query"))
	assert.True(t, telemetry.HasAttribute(errs, "model", "fake-model"))

	assert.NotNil(t, tel.Metric(ctx, "remindmine.embedding.duration_seconds"))
	assert.NotNil(t, tel.Metric(ctx, "remindmine.embedding.batch_size"))
}
