package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	"github.com/webprice/webprice-analyzer/internal/app"
	jobmetrics "github.com/webprice/webprice-analyzer/internal/jobs"
	"github.com/webprice/webprice-analyzer/internal/platform/cache"
	"github.com/webprice/webprice-analyzer/internal/workspace"
	"github.com/webprice/webprice-analyzer/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	analyzer, err := analysis.NewClient(analysis.ClientConfig{BaseURL: cfg.APIURL, Timeout: cfg.APITimeout})
	if err != nil {
		logger.Error("init analysis client", slog.Any("error", err))
		os.Exit(1)
	}

	// The worker only runs analyses; it never enqueues, so it stays inline.
	controller, err := workspace.NewController(workspace.Config{
		Store:          workspace.NewStore(redisClient, cfg.WorkspaceTTL),
		Analyzer:       analyzer,
		Dispatch:       workspace.DispatchInline,
		MaxUploadBytes: cfg.UploadMaxBytes,
		StaleAfter:     cfg.StaleAfter,
		Logger:         logger,
		Metrics:        jobmetrics.NewMetrics(nil),
	})
	if err != nil {
		logger.Error("init workspace controller", slog.Any("error", err))
		os.Exit(1)
	}

	analysisJob := jobs.NewAnalysisRunJob(controller, logger)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAnalysisRun, Handler: analysisJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("api_url", analyzer.BaseURL()), slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
