package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/auth"
	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/observability"
	"github.com/miazigoo/RepireCRM/internal/platform/cache"
	"github.com/miazigoo/RepireCRM/internal/pos"
	"github.com/miazigoo/RepireCRM/internal/procurement"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
	"github.com/miazigoo/RepireCRM/jobs"
)

// IdempotencyStore is the key store used by finalize and the cleanup job.
type IdempotencyStore interface {
	shared.IdempotencyPort
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Backends are the external resources the services run on. A nil Pool
// selects the in-memory stores; a nil Redis disables caching.
type Backends struct {
	Pool      *pgxpool.Pool
	Redis     redis.Cmdable
	Publisher *jobs.Publisher
	Metrics   *observability.Metrics
}

// Services is the wired domain layer shared by the API and the worker.
type Services struct {
	Shops       *shops.Directory
	Inventory   *inventory.Service
	Advisor     *inventory.Advisor
	Finance     *finance.Service
	POS         *pos.Service
	Procurement *procurement.Service
	Auth        *auth.Service
	Roles       *rbac.Service
	Idempotency IdempotencyStore
}

// NewServices builds every domain service on the given backends.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger, b Backends) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var barcodeCache, reorderCache *cache.JSONStore
	if b.Redis != nil {
		barcodeCache = cache.NewJSONStore(b.Redis, "repaircrm:barcode", cfg.BarcodeCacheTTL)
		reorderCache = cache.NewJSONStore(b.Redis, "repaircrm:reorder", cfg.ReorderCacheTTL)
	}

	var (
		invEvents  inventory.IntegrationHandler
		saleEvents pos.EventHandler
		poEvents   procurement.IntegrationHandler
		metrics    inventory.LedgerMetrics
	)
	if b.Publisher != nil {
		invEvents, saleEvents, poEvents = b.Publisher, b.Publisher, b.Publisher
	}
	if b.Metrics != nil {
		metrics = b.Metrics
	}
	roles := rbac.NewService(rbac.DefaultRoles())
	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.JWTTTL}

	svc := &Services{Roles: roles}
	if b.Pool == nil {
		shopRepo := shops.NewMemoryRepository()
		svc.Shops = shops.NewDirectory(shopRepo)
		audit := shared.NewSlogAuditor(logger)
		ledger := inventory.NewMemoryStore()
		payments := finance.NewMemoryStore()
		svc.Idempotency = shared.NewMemoryIdempotency()
		svc.Inventory = inventory.NewService(ledger, svc.Shops, audit, inventory.ServiceConfig{
			Logger: logger, Metrics: metrics, Events: invEvents, BarcodeCache: barcodeCache,
		})
		svc.Advisor = inventory.NewAdvisor(ledger, reorderCache, logger)
		svc.Finance = finance.NewService(payments, audit, logger)
		svc.POS = pos.NewService(pos.NewMemoryStore(ledger, payments), svc.Inventory, svc.Shops, svc.Finance.Recorder(), pos.Config{
			Idempotency: svc.Idempotency, Events: saleEvents, Audit: audit, Logger: logger,
		})
		svc.Procurement = procurement.NewService(procurement.NewMemoryStore(ledger), svc.Inventory, svc.Shops, audit, poEvents, logger)
		users := auth.NewMemoryRepository()
		svc.Auth = auth.NewService(users, roles, authCfg)
		if err := seedMemory(ctx, cfg, svc.Shops, payments, users); err != nil {
			return nil, err
		}
		return svc, nil
	}

	svc.Shops = shops.NewDirectory(shops.NewRepository(b.Pool))
	audit := shared.NewAuditLogger(b.Pool)
	ledger := inventory.NewRepository(b.Pool)
	idem := shared.NewIdempotencyStore(b.Pool)
	svc.Idempotency = idem
	svc.Inventory = inventory.NewService(ledger, svc.Shops, audit, inventory.ServiceConfig{
		Logger: logger, Metrics: metrics, Events: invEvents, BarcodeCache: barcodeCache,
	})
	svc.Advisor = inventory.NewAdvisor(ledger, reorderCache, logger)
	svc.Finance = finance.NewService(finance.NewRepository(b.Pool), audit, logger)
	svc.POS = pos.NewService(pos.NewRepository(b.Pool), svc.Inventory, svc.Shops, svc.Finance.Recorder(), pos.Config{
		Idempotency: idem, Events: saleEvents, Audit: audit, Logger: logger,
	})
	svc.Procurement = procurement.NewService(procurement.NewRepository(b.Pool), svc.Inventory, svc.Shops, audit, poEvents, logger)
	svc.Auth = auth.NewService(auth.NewRepository(b.Pool), roles, authCfg)
	return svc, nil
}

// seedMemory gives a fresh memory store one shop, a cash method with a
// register, and an optional admin account.
func seedMemory(ctx context.Context, cfg *Config, dir *shops.Directory, payments *finance.MemoryStore, users *auth.MemoryRepository) error {
	shop, err := dir.Create(ctx, shops.Shop{Code: "MAIN", Name: "Main shop"})
	if err != nil {
		return err
	}
	if err := dir.SaveSettings(ctx, shops.Settings{ShopID: shop.ID, POSBarcodeEnabled: true}); err != nil {
		return err
	}
	payments.AddMethod(finance.PaymentMethod{Code: "cash", Name: "Cash", IsCash: true, FeePercent: decimal.Zero, FeeFixed: decimal.Zero, IsActive: true})
	payments.AddRegister(finance.CashRegister{ShopID: shop.ID, Name: "Front desk", CashBalance: decimal.Zero, IsActive: true})
	if cfg.DevAdminPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(cfg.DevAdminPassword)
	if err != nil {
		return err
	}
	users.Add(auth.User{
		Username: "admin", PasswordHash: hash, Role: rbac.RoleAdmin,
		ShopIDs: []int64{shop.ID}, IsSuperuser: true, IsActive: true, CreatedAt: time.Now().UTC(),
	})
	return nil
}
