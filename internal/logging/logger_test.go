package logging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kkzk/remindmine/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false
	cfg.Output.OTEL = true

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err, "otel output without a provider leaves no core")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad format", func(c *Config) { c.Format = "xml" }, false},
		{"no output", func(c *Config) { c.Output.Stdout = false }, false},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, false},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, false},
		{"empty field value", func(c *Config) { c.Fields["env"] = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithItemID(ctx, 42)

	tl.Info(ctx, "advice stored", zap.String("model", "llama3.2"))

	tl.AssertLogged(t, zapcore.InfoLevel, "advice stored")
	tl.AssertField(t, "advice stored", "trace_id", traceID.String())
	tl.AssertField(t, "advice stored", "request.id", "req-1")
	tl.AssertField(t, "advice stored", "item.id", int64(42))
	tl.AssertField(t, "advice stored", "model", "llama3.2")
	tl.AssertNotLogged(t, zapcore.ErrorLevel, "advice stored")
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))
	assert.Equal(t, ctx, WithRequestID(ctx, ""))

	_, ok := ItemIDFromContext(ctx)
	assert.False(t, ok)

	assert.NotNil(t, FromContext(ctx))
	tl := NewTestLogger()
	assert.Same(t, tl.Logger, FromContext(WithLogger(ctx, tl.Logger)))
}

func TestRedactingEncoder(t *testing.T) {
	var buf bytes.Buffer
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	enc, err := NewRedactingEncoder(base, NewDefaultConfig().Redaction)
	require.NoError(t, err)

	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	logger := zap.New(core).With(zap.String("api_key", "from-with"))

	logger.Info("calling tracker",
		zap.String("token", "ghp_abcdef"),
		zap.String("X-Redmine-API-Key", "redmine-secret"),
		zap.String("header", "Bearer abc.def.ghi"),
		zap.String("subject", "printer jams"),
		Secret("openai_key", config.Secret("sk-1234567890abcdefgh")),
	)

	out := buf.String()
	assert.NotContains(t, out, "from-with")
	assert.NotContains(t, out, "ghp_abcdef")
	assert.NotContains(t, out, "redmine-secret")
	assert.NotContains(t, out, "abc.def.ghi")
	assert.NotContains(t, out, "sk-1234567890")
	assert.Contains(t, out, "printer jams")
	assert.Contains(t, out, "[REDACTED:21]")
}

func TestSampling_ErrorsNeverDropped(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling = SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0}

	core, err := newCore(cfg, nil)
	require.NoError(t, err)

	assert.True(t, core.Enabled(zapcore.ErrorLevel))
	assert.True(t, core.Enabled(zapcore.InfoLevel))
	assert.False(t, core.Enabled(zapcore.DebugLevel))
}
