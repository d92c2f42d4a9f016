package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/antoniostano/beacon/internal/config"
	"github.com/antoniostano/beacon/internal/history"
	"github.com/antoniostano/beacon/internal/httpapi"
	"github.com/antoniostano/beacon/internal/logging"
	"github.com/antoniostano/beacon/internal/observability"
	"github.com/antoniostano/beacon/internal/quota"
	"github.com/antoniostano/beacon/internal/stream"
	"github.com/antoniostano/beacon/internal/summarizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.CacheCapacity)
	if err != nil {
		logger.Fatal("conversation store init failed", zap.Error(err))
	}
	defer store.Close()

	limiters, err := quota.NewLimiters(ctx, quota.Options{
		DatabaseURL:  cfg.DatabaseURL,
		SubjectLimit: cfg.SubjectQuotaLimit,
		ClusterLimit: cfg.ClusterQuotaLimit,
		ClusterID:    cfg.ClusterID,
	})
	if err != nil {
		logger.Fatal("quota limiter init failed", zap.Error(err))
	}

	sum, err := summarizer.New(summarizer.Config{
		Mode:   cfg.SummarizerMode,
		APIKey: cfg.OpenAIAPIKey,
		Model:  cfg.OpenAIModel,
	})
	if err != nil {
		logger.Fatal("summarizer init failed", zap.Error(err))
	}

	names := make([]string, 0, len(limiters))
	for _, l := range limiters {
		names = append(names, l.Name())
	}
	logger.Info("pipeline configured",
		zap.Strings("limiters", names),
		zap.Int("cache_capacity", cfg.CacheCapacity),
		zap.Bool("postgres", cfg.DatabaseURL != ""))

	pipeline := stream.NewPipeline(store, limiters, metrics, logger)
	api := httpapi.New(cfg, store, limiters, pipeline, sum, metrics, logger)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
