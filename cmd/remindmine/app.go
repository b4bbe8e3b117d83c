package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kkzk/remindmine/internal/config"
	"github.com/kkzk/remindmine/internal/logging"
	"github.com/kkzk/remindmine/internal/services"
	"github.com/kkzk/remindmine/internal/telemetry"
)

const meterName = "github.com/kkzk/remindmine"

// app holds everything a command needs, built from flags and config.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	tel    *telemetry.Telemetry
	reg    services.Registry
	closer func() error
}

// logStderr keeps stdout for command output; serve logs to stdout.
func newApp(ctx context.Context, opts *rootOptions, logStderr bool) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath: opts.configPath,
		DotenvPath: opts.envFile,
	})
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.configure != nil {
		opts.configure(cfg)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	lcfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}
	lcfg.Output.Stderr = logStderr
	logger, err := logging.NewLogger(lcfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if degraded, derr := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Error(derr))
	}

	reg, closer, err := services.Build(ctx, cfg, opts.providers, tel.Meter(meterName), logger.Underlying())
	if err != nil {
		_ = logger.Sync()
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &app{cfg: cfg, log: logger, tel: tel, reg: reg, closer: closer}, nil
}

// Close releases services, flushes telemetry and syncs the logger.
func (a *app) Close() error {
	var errs []error
	if err := a.closer(); err != nil {
		errs = append(errs, fmt.Errorf("closing services: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	_ = a.log.Sync()
	return errors.Join(errs...)
}

// withApp runs fn against a freshly built app and closes it afterwards.
func withApp(ctx context.Context, opts *rootOptions, fn func(*app) error) (err error) {
	a, err := newApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
