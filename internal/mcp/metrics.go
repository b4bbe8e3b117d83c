package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/advice"
	"github.com/kkzk/remindmine/internal/ledger"
	"github.com/kkzk/remindmine/internal/tracker"
)

const instrumentationName = "github.com/kkzk/remindmine/internal/mcp"

// Metrics holds the MCP tool instruments.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	invocations    metric.Int64Counter
	duration       metric.Float64Histogram
	errors         metric.Int64Counter
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates tool metrics on meter. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"remindmine.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	// Advice generation dominates; buckets reach into minutes.
	m.duration, err = m.meter.Float64Histogram(
		"remindmine.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"remindmine.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"remindmine.mcp.tool.active_requests",
		metric.WithDescription("Number of currently active MCP tool requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// track marks tool as active and returns a func that records the outcome.
func (m *Metrics) track(ctx context.Context, tool string) func(err error) {
	start := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, 1, toolAttr)
	}
	return func(err error) {
		if m.activeRequests != nil {
			m.activeRequests.Add(ctx, -1, toolAttr)
		}
		m.record(ctx, tool, time.Since(start), err)
	}
}

func (m *Metrics) record(ctx context.Context, tool string, elapsed time.Duration, err error) {
	toolAttr := attribute.String("tool", tool)
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(toolAttr))
	}
	if m.duration != nil {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(toolAttr))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(toolAttr, attribute.String("reason", categorizeError(err))))
	}
}

func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, tracker.ErrItemNotFound), errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, advice.ErrNoAdvice):
		return "generation_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "required") || strings.Contains(msg, "invalid"):
		return "validation_error"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "vector") || strings.Contains(msg, "embedding"):
		return "storage_error"
	default:
		return "internal_error"
	}
}
