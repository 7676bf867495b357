package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/tallyhq/tally/internal/app"
	"github.com/tallyhq/tally/internal/cycles"
	"github.com/tallyhq/tally/internal/inventory"
	jobmetrics "github.com/tallyhq/tally/internal/jobs"
	"github.com/tallyhq/tally/internal/platform/db"
	"github.com/tallyhq/tally/internal/shared"
	"github.com/tallyhq/tally/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	caps, err := cycles.Probe(ctx, pool)
	if err != nil {
		logger.Error("probe schema", slog.Any("error", err))
		os.Exit(1)
	}

	idempotencyStore := shared.NewIdempotencyStore(pool)
	inventoryService := inventory.NewService(
		inventory.NewRepository(pool),
		cycles.NewGuard(caps),
		shared.NewAuditLogger(pool),
		inventory.ServiceConfig{RebuildConcurrency: cfg.RebuildConcurrency},
	)

	metrics := jobmetrics.NewMetrics(nil)
	balanceJob := jobs.NewBalanceJob(inventoryService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	verifyTask, err := jobs.NewBalanceVerifyTask(cfg.VerifyRepair)
	if err != nil {
		logger.Error("build verify task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBalanceRebuild, Handler: balanceJob.HandleRebuild},
			{Type: jobs.TaskBalanceVerify, Handler: balanceJob.HandleVerify},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.VerifyCron, Task: verifyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
