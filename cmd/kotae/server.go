package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/watcher"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP server",
	Long: `Start the HTTP API (POST /upload, POST /query, GET /api/v1/status) and,
when watch.directories is configured, ingest files dropped into those directories.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, resolvedConfigPath, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		components.Pipeline,
		watcher.WithOwner(cfg.Watch.Owner),
		watcher.WithLogger(logger),
	)
	if err := watchSvc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watchSvc.Stop()
	if cfg.Watch.SyncExisting {
		go watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(components.Pipeline, components.Answerer, components.Store, cfg,
		server.WithLogger(logger),
		server.WithWatch(watchSvc, resolvedConfigPath))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	return nil
}
