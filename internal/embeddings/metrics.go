package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Metrics holds the embedding instruments.
type Metrics struct {
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates the instruments on meter. A nil meter yields no-op
// instruments.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("embeddings")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger}

	var err error
	m.duration, err = meter.Float64Histogram(
		"remindmine.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls, by model and operation (documents, query)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"remindmine.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"remindmine.embedding.errors_total",
		metric.WithDescription("Failed embedding calls, by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
	return m
}

// RecordGeneration records one embedding call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// InstrumentedProvider records Metrics around every call of the wrapped
// provider.
type InstrumentedProvider struct {
	Provider
	metrics *Metrics
}

// Instrument wraps p with metrics.
func Instrument(p Provider, m *Metrics) *InstrumentedProvider {
	return &InstrumentedProvider{Provider: p, metrics: m}
}

// EmbedDocuments implements Provider.
func (p *InstrumentedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := p.Provider.EmbedDocuments(ctx, texts)
	p.metrics.RecordGeneration(ctx, p.ModelID(), "documents", time.Since(start), len(texts), err)
	return vecs, err
}

// EmbedQuery implements Provider.
func (p *InstrumentedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := p.Provider.EmbedQuery(ctx, text)
	p.metrics.RecordGeneration(ctx, p.ModelID(), "query", time.Since(start), 1, err)
	return vec, err
}
