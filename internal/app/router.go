package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/miazigoo/RepireCRM/internal/auth"
	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/observability"
	"github.com/miazigoo/RepireCRM/internal/platform/httpx"
	"github.com/miazigoo/RepireCRM/internal/pos"
	"github.com/miazigoo/RepireCRM/internal/procurement"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shops"
	"github.com/miazigoo/RepireCRM/jobs"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	AuthHandler        *auth.Handler
	ShopsHandler       *shops.Handler
	InventoryHandler   *inventory.Handler
	POSHandler         *pos.Handler
	ProcurementHandler *procurement.Handler
	FinanceHandler     *finance.Handler
	JobHandler         *jobs.Handler

	// HealthChecks are pinged by /readyz, keyed by component name.
	HealthChecks map[string]Pinger
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(logger, params.HealthChecks))
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if params.AuthHandler != nil {
			api.Use(params.AuthHandler.Middleware)
			params.AuthHandler.MountRoutes(api)
		}
		if params.ShopsHandler != nil {
			params.ShopsHandler.MountRoutes(api)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(api)
		}
		if params.POSHandler != nil {
			params.POSHandler.MountRoutes(api)
		}
		if params.ProcurementHandler != nil {
			params.ProcurementHandler.MountRoutes(api)
		}
		if params.FinanceHandler != nil {
			params.FinanceHandler.MountRoutes(api)
		}
		if params.JobHandler != nil {
			guard := rbac.Middleware{Logger: logger}
			api.Route("/jobs", func(r chi.Router) {
				r.Use(guard.RequireAny(rbac.PermChangeShop))
				params.JobHandler.MountRoutes(r)
			})
		}
	})
	return r
}

func readiness(logger *slog.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("component", name), slog.Any("error", err))
				report[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "up"
		}
		httpx.JSON(w, status, report)
	}
}
