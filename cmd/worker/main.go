package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oryntel/docindex/internal/adapters/worker"
	"github.com/oryntel/docindex/internal/bootstrap"
	"github.com/oryntel/docindex/internal/config"
	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "indexer")
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("indexer")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Error("metrics_server_error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	processor := worker.NewProcessor(app.Coordinator, app.Queue, workerMetrics, "indexer", cfg.MaxIndexAttempts)

	app.Logger.Info("worker_subscribed", "subject", cfg.NATSSubject, "backend", string(app.Backend))
	err = app.Queue.SubscribeIndexJobs(ctx, func(handlerCtx context.Context, job domain.IndexJob) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, 5*time.Minute)
		defer cancel()
		return processor.Process(processCtx, job)
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
