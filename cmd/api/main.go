package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/witness-retrieval/internal/adapters/http"
	"github.com/kirillkom/witness-retrieval/internal/bootstrap"
	"github.com/kirillkom/witness-retrieval/internal/config"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/witness-retrieval/internal/observability/logging"
	"github.com/kirillkom/witness-retrieval/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, httpMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Resolver: app.Resolver,
		Searcher: app.Searcher,
		Verifier: app.Verifier,
		Ingestor: app.Ingestor,
		Catalog:  app.Catalog,
		Chunks:   app.Chunks,
		Metrics:  httpMetrics,
	}).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go purgeSearchCache(ctx, app.Cache, cfg.SearchCachePurgeEvery)

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}

// purgeSearchCache deletes expired search cache rows every interval until ctx ends.
func purgeSearchCache(ctx context.Context, cache *postgres.SearchCacheRepository, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := cache.PurgeExpiredSearches(ctx)
			if err != nil {
				slog.Warn("search_cache_purge_failed", "error", err)
				continue
			}
			if purged > 0 {
				slog.Info("search_cache_purged", "rows", purged)
			}
		}
	}
}
