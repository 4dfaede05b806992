package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"audio-annotator/internal/config"
	"audio-annotator/internal/metrics"
	"audio-annotator/internal/server"
	"audio-annotator/internal/session"
	"audio-annotator/internal/vocabulary"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the annotation HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	settings, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	listenAddr := config.ListenAddr()
	if err := config.ValidateListenAddr(listenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}

	sessionCfg, err := config.SessionConfig(settings)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}
	orch := session.New(sessionCfg, logger)

	opts := server.Options{SessionTTL: config.SessionTTL()}

	labelFile, labelsEnabled, err := config.ResolveLabelFile()
	if err != nil {
		return fmt.Errorf("resolve label file: %w", err)
	}
	if labelsEnabled {
		store, err := vocabulary.NewStore(labelFile, settings.DefaultLabels, config.RefreshDebounce(), logger)
		if err != nil {
			return fmt.Errorf("initialise label store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("error closing label store", zap.Error(err))
			}
		}()
		opts.Vocabulary = store
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	opts.Metrics = m

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.New(orch, opts, logger),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("graceful shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", listenAddr),
		zap.String("output", orch.OutputPath()))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
