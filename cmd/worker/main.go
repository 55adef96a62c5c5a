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

	"github.com/odyssey-erp/fiscalbridge/internal/app"
	"github.com/odyssey-erp/fiscalbridge/internal/codes"
	"github.com/odyssey-erp/fiscalbridge/internal/ops"
	"github.com/odyssey-erp/fiscalbridge/jobs"
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
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	redisOpt, err := cfg.RedisOpt()
	if err != nil {
		return err
	}

	submitJob := &jobs.SubmitJob{Service: rt.Service, Logger: logger, Metrics: rt.JobMetrics}
	sweepJob := &jobs.SweepJob{Service: rt.Service, Logger: logger, Metrics: rt.JobMetrics}
	syncJob := &jobs.ReferenceSyncJob{
		Caller:   rt.Gateway,
		Codebook: rt.Codebook,
		Store:    rt.CodeStore,
		Table:    codes.DefaultTable,
		Logger:   logger,
		Metrics:  rt.JobMetrics,
	}

	sweepCron, err := jobs.SweepCron(cfg.RetrySweepCron)
	if err != nil {
		return err
	}
	syncCron, err := jobs.ReferenceSyncCron(cfg.ReferenceSyncCron)
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpt,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			submitJob.Registration(),
			sweepJob.Registration(),
			syncJob.Registration(),
		},
		Cron: []jobs.CronRegistration{sweepCron, syncCron},
	})
	if err != nil {
		return err
	}

	client, err := jobs.NewClient(redisOpt)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Metrics:    rt.Metrics,
		JobHandler: jobs.NewHandler(inspector, logger),
		OpsHandler: ops.NewHandler(client, rt.Service, logger),
		Ready:      rt.Ready,
	})
	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", slog.Any("error", err))
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}
