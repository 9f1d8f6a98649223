/**
 * pdf2md Worker - Main Entry Point
 *
 * Converts PDFs into Markdown with layout-aware reading order.
 *
 * Architecture:
 * - Asynq task consumer (or a plain Redis list consumer) for queued jobs
 * - chi HTTP API for synchronous conversion, translation and job lookup
 * - MuPDF or Ghostscript rasterization, remote layout detection, reading-order decoding
 * - Tesseract OCR and LLM cleanup per region
 * - SQLite or PostgreSQL job store, optional Qdrant fragment index
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/pdf2md/internal/api"
	"github.com/adverant/nexus/pdf2md/internal/app"
	"github.com/adverant/nexus/pdf2md/internal/config"
	"github.com/adverant/nexus/pdf2md/internal/logging"
	"github.com/adverant/nexus/pdf2md/internal/queue"
)

// worker is whichever queue consumer QUEUE_MODE selects.
type worker interface {
	api.Enqueuer
	start(ctx context.Context) error
	stop(ctx context.Context) error
}

type asynqWorker struct{ *queue.Consumer }

func (w asynqWorker) start(ctx context.Context) error { return w.Start(ctx) }
func (w asynqWorker) stop(ctx context.Context) error  { return w.Stop(ctx) }

type listWorker struct{ *queue.RedisConsumer }

func (w listWorker) start(ctx context.Context) error { return w.Start() }
func (w listWorker) stop(ctx context.Context) error  { return w.Stop() }

func main() {
	logger := logging.NewLogger("Worker")

	if err := godotenv.Load(); err != nil {
		logger.Warn(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)

	logger.Info("pdf2md worker starting",
		"store", cfg.Store,
		"queue", cfg.QueueName,
		"queueMode", cfg.QueueMode,
		"workers", cfg.WorkerConcurrency,
		"indexing", cfg.IndexingEnabled())

	ctx := context.Background()
	comps, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("Failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer comps.Close()

	var w worker
	switch cfg.QueueMode {
	case config.QueueList:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         comps.Processor,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			logger.Error("Failed to initialize queue consumer", "error", err)
			os.Exit(1)
		}
		w = listWorker{c}
	default:
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         comps.Processor,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			logger.Error("Failed to initialize queue consumer", "error", err)
			os.Exit(1)
		}
		w = asynqWorker{c}
	}

	if err := w.start(ctx); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	apiCfg := &api.Config{
		Converter:         comps.Processor,
		Queue:             w,
		MaxUploadSize:     cfg.MaxFileSize,
		ProcessingTimeout: time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
	}
	if comps.Storage != nil {
		apiCfg.Jobs = comps.Storage
		if comps.Storage.Indexing() && comps.Embedder != nil {
			apiCfg.Search = comps.Storage
			apiCfg.Embedder = comps.Embedder
		}
	}
	server, err := api.NewServer(apiCfg)
	if err != nil {
		logger.Error("Failed to create HTTP API", "error", err)
		os.Exit(1)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(cfg.APIAddr) }()

	logger.Info("pdf2md worker is READY", "api", cfg.APIAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal, initiating graceful shutdown", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP API stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP API", "error", err)
	}
	if err := w.stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping queue consumer", "error", err)
	}
	logger.Info("Shutdown complete")
}
