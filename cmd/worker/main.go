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

	"github.com/kirillkom/witness-retrieval/internal/bootstrap"
	"github.com/kirillkom/witness-retrieval/internal/config"
	"github.com/kirillkom/witness-retrieval/internal/observability/logging"
	"github.com/kirillkom/witness-retrieval/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, nil)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeWorkQueued(ctx, func(handlerCtx context.Context, workID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, cfg.IngestTimeout)
		defer cancel()

		started := time.Now()
		workerMetrics.StartWork()
		report, err := app.Processor.Process(processCtx, workID)
		workerMetrics.FinishWork("worker", time.Since(started), report, err)
		if err != nil {
			logger.Error("work_ingest_failed", append([]any{"work_id", workID}, logging.ErrorAttrs(err)...)...)
			return err
		}
		logger.Info("work_ingested",
			"work_id", workID,
			"run_id", report.RunID,
			"references", report.References,
			"references_skipped", len(report.SkippedReferences),
			"chunks", report.Chunks,
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
