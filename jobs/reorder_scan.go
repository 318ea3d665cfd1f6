package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/miazigoo/RepireCRM/internal/jobs"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

// ShopLister lists the shops a scheduled job fans out over.
type ShopLister interface {
	ListActive(ctx context.Context) ([]shops.Shop, error)
}

// ReorderRefresher recomputes and caches reorder recommendations.
type ReorderRefresher interface {
	Refresh(ctx context.Context, shopID int64) ([]inventory.Recommendation, error)
}

// ReorderScanJob warms the reorder cache of every shop and logs the items
// that need purchasing.
type ReorderScanJob struct {
	Shops       ShopLister
	Advisor     ReorderRefresher
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewReorderScanJob initialises the reorder scan handler.
func NewReorderScanJob(shopList ShopLister, advisor ReorderRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReorderScanJob {
	return &ReorderScanJob{Shops: shopList, Advisor: advisor, Logger: logger, Metrics: metrics, Concurrency: 4}
}

// Handle executes the scan.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Advisor == nil || j.Shops == nil {
		return errors.New("reorder scan: handler not configured")
	}
	var payload ShopScopePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("reorder scan: %w", asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskReorderScan)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	ids, err := shopScope(ctx, j.Shops, payload.ShopID)
	if err != nil {
		return err
	}
	logger := loggerOrDefault(j.Logger)
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.Concurrency, 1))
	for _, shopID := range ids {
		g.Go(func() error {
			recs, err := j.Advisor.Refresh(gctx, shopID)
			if err != nil {
				return fmt.Errorf("reorder scan shop %d: %w", shopID, err)
			}
			j.Metrics.SetReorderSuggestions(shopID, len(recs))
			total.Add(int64(len(recs)))
			if len(recs) > 0 {
				logger.Info("items need reordering", slog.Int64("shop_id", shopID), slog.Int("items", len(recs)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("reorder scan failed", slog.Any("error", err))
		return err
	}
	logger.Info("completed reorder scan",
		slog.Int("shops", len(ids)),
		slog.Int64("suggestions", total.Load()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func shopScope(ctx context.Context, lister ShopLister, shopID int64) ([]int64, error) {
	if shopID > 0 {
		return []int64{shopID}, nil
	}
	active, err := lister.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
