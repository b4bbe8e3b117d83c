package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/kkzk/remindmine/internal/http"
	"github.com/kkzk/remindmine/internal/services"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP admin API and the background scheduler",
		Long: `Run the HTTP admin API together with the update scheduler.

The scheduler reindexes the tracker every scheduler.resync_interval and
drafts advice for new issues every scheduler.poll_interval. Only one
scheduler may own a data directory at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) (err error) {
	a, err := newApp(ctx, opts, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	logger := a.log.Underlying()

	srv, err := httpserver.NewServer(a.reg, logger.Named("http"), &httpserver.Config{
		Host: a.cfg.API.Host,
		Port: a.cfg.API.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	if a.cfg.Scheduler.Enabled {
		sched, err := services.NewScheduler(a.reg, logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	} else {
		logger.Info("scheduler disabled")
	}

	logger.Info("starting remindmine",
		zap.String("version", version),
		zap.String("tracker", a.cfg.Tracker.Kind),
		zap.String("ai_provider", a.cfg.AI.Provider),
		zap.String("vector_store", a.cfg.VectorStore.Provider),
		zap.Int("port", a.cfg.API.Port))

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("received shutdown signal, shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.API.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}
