// Package logging provides structured logging for remindmine.
//
// Logger wraps Zap with:
//   - context field injection (trace_id, span_id, request.id, item.id)
//   - secret redaction at the encoder (api_key, token, authorization, ...)
//   - optional OpenTelemetry log export through the otelzap bridge
//   - sampling below error level
//
// Components below the service layer take a plain *zap.Logger; pass
// Logger.Underlying() to them.
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithItemID(ctx, 42)
//	logger.Info(ctx, "advice stored", zap.Int("chars", n))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
