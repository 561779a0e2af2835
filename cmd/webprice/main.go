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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/webprice/webprice-analyzer/internal/analysis"
	"github.com/webprice/webprice-analyzer/internal/app"
	"github.com/webprice/webprice-analyzer/internal/dashboard/export"
	dashboardhttp "github.com/webprice/webprice-analyzer/internal/dashboard/http"
	jobmetrics "github.com/webprice/webprice-analyzer/internal/jobs"
	"github.com/webprice/webprice-analyzer/internal/observability"
	"github.com/webprice/webprice-analyzer/internal/platform/cache"
	"github.com/webprice/webprice-analyzer/internal/shared"
	"github.com/webprice/webprice-analyzer/internal/view"
	"github.com/webprice/webprice-analyzer/internal/workspace"
	"github.com/webprice/webprice-analyzer/jobs"
	"github.com/webprice/webprice-analyzer/report"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

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

	sessionManager := shared.NewSessionManager(redisClient, "webprice_session", cfg.SessionSecret, cfg.SessionTTL, cfg.SecureCookies())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		os.Exit(1)
	}

	analyzer, err := analysis.NewClient(analysis.ClientConfig{BaseURL: cfg.APIURL, Timeout: cfg.APITimeout})
	if err != nil {
		logger.Error("init analysis client", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	var enqueuer workspace.Enqueuer
	if workspace.Dispatch(cfg.AnalysisDispatch) == workspace.DispatchQueue {
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}()
		enqueuer = jobClient
	}

	controller, err := workspace.NewController(workspace.Config{
		Store:          workspace.NewStore(redisClient, cfg.WorkspaceTTL),
		Analyzer:       analyzer,
		Enqueuer:       enqueuer,
		Dispatch:       workspace.Dispatch(cfg.AnalysisDispatch),
		MaxUploadBytes: cfg.UploadMaxBytes,
		StaleAfter:     cfg.StaleAfter,
		Logger:         logger,
		Metrics:        jobmetrics.NewMetrics(metrics.Registerer()),
	})
	if err != nil {
		logger.Error("init workspace controller", slog.Any("error", err))
		os.Exit(1)
	}

	reportClient := report.NewClient(cfg.GotenbergURL, 0)
	var pdf dashboardhttp.PDFRenderer
	if reportClient.Configured() {
		pdf = &export.PDFExporter{Converter: reportClient, Templates: templates}
	}
	dashboardHandler := dashboardhttp.NewHandler(logger, controller, templates, csrfManager, dashboardhttp.Options{
		Metrics: metrics,
		PDF:     pdf,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		DashboardHandler: dashboardHandler,
		ReportHandler:    report.NewHandler(reportClient, logger),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("api_url", analyzer.BaseURL()),
			slog.String("dispatch", string(controller.Dispatch())),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
