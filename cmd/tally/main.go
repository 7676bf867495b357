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

	"github.com/tallyhq/tally/internal/app"
	"github.com/tallyhq/tally/internal/catalog"
	"github.com/tallyhq/tally/internal/cycles"
	"github.com/tallyhq/tally/internal/inventory"
	"github.com/tallyhq/tally/internal/observability"
	"github.com/tallyhq/tally/internal/platform/cache"
	"github.com/tallyhq/tally/internal/platform/db"
	"github.com/tallyhq/tally/internal/production"
	"github.com/tallyhq/tally/internal/rbac"
	"github.com/tallyhq/tally/internal/shared"
	"github.com/tallyhq/tally/jobs"
)

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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.Options{})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	caps, err := cycles.Probe(ctx, dbpool)
	if err != nil {
		logger.Error("probe schema", slog.Any("error", err))
		os.Exit(1)
	}
	if !caps.InventoryLock {
		logger.Warn("cycles.inventory_locked missing, cycle lock checks disabled")
	}
	guard := cycles.NewGuard(caps)

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	catalogRepo := catalog.NewRepository(dbpool)
	catalogService := catalog.NewService(catalogRepo, catalog.NewCache(redisClient, cfg.CatalogCacheTTL), auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, guard, auditLogger, inventory.ServiceConfig{
		RebuildConcurrency: cfg.RebuildConcurrency,
		Metrics:            metrics,
	})

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inventoryHandler := inventory.NewHandler(logger, inventoryService, rbacService, jobClient)

	productionService := production.NewService(production.ServiceDeps{
		Repo:     production.NewRepository(dbpool),
		Ledger:   inventoryService,
		Variants: catalogService,
		Access:   rbacService,
		Audit:    auditLogger,
		Metrics:  metrics,
	})
	productionHandler := production.NewHandler(logger, productionService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		RBACMiddleware:    rbacMiddleware,
		CatalogHandler:    catalogHandler,
		InventoryHandler:  inventoryHandler,
		ProductionHandler: productionHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
		Health:            dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
