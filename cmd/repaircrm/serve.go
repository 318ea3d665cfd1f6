package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/miazigoo/RepireCRM/internal/app"
	"github.com/miazigoo/RepireCRM/internal/auth"
	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/observability"
	"github.com/miazigoo/RepireCRM/internal/platform/cache"
	"github.com/miazigoo/RepireCRM/internal/platform/db"
	"github.com/miazigoo/RepireCRM/internal/pos"
	"github.com/miazigoo/RepireCRM/internal/procurement"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shops"
	"github.com/miazigoo/RepireCRM/jobs"
)

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	backends := app.Backends{Metrics: metrics}
	checks := map[string]app.Pinger{}

	if !cfg.UsesMemoryStorage() {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.PGMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		backends.Pool = pool
		checks["postgres"] = app.PingFunc(pool.Ping)
	} else {
		logger.Warn("using in-memory storage; data is lost on restart")
	}

	var inspector *asynq.Inspector
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err == nil {
		defer closeQuietly(logger, "redis", redisClient.Close)
		backends.Redis = redisClient
		checks["redis"] = app.PingFunc(func(ctx context.Context) error { return cache.Ping(ctx, redisClient) })

		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client := jobs.NewClient(redisOpts)
		defer closeQuietly(logger, "asynq client", client.Close)
		backends.Publisher = jobs.NewPublisher(client, logger)
		inspector = asynq.NewInspector(redisOpts)
		defer closeQuietly(logger, "asynq inspector", inspector.Close)
	} else {
		logger.Warn("redis unavailable; caching and events disabled", slog.Any("error", err))
	}

	services, err := app.NewServices(ctx, cfg, logger, backends)
	if err != nil {
		return err
	}

	guard := rbac.Middleware{Logger: logger}
	params := app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		AuthHandler:        auth.NewHandler(logger, services.Auth),
		ShopsHandler:       shops.NewHandler(logger, services.Shops, guard),
		InventoryHandler:   inventory.NewHandler(logger, services.Inventory, services.Advisor, guard),
		POSHandler:         pos.NewHandler(logger, services.POS, guard),
		ProcurementHandler: procurement.NewHandler(logger, services.Procurement, guard),
		FinanceHandler:     finance.NewHandler(logger, services.Finance, guard),
		HealthChecks:       checks,
	}
	if inspector != nil {
		params.JobHandler = jobs.NewHandler(inspector, logger)
	}

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           app.NewRouter(params),
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func closeQuietly(logger *slog.Logger, name string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warn("close "+name, slog.Any("error", err))
	}
}
