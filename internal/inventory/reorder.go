package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/platform/cache"
)

// ReorderCandidate is a balance at or below its reorder point with the
// supplier terms used to size the order.
type ReorderCandidate struct {
	Balance
	SKU           string
	Name          string
	PurchasePrice decimal.Decimal
	SupplierID    int64
	SupplierPrice decimal.NullDecimal
	MinOrderQty   int64
}

// ReorderFilter scopes a recommendation run.
type ReorderFilter struct {
	ShopID int64
	Limit  int
	Fresh  bool
}

// Recommendation suggests a purchase quantity for one item.
type Recommendation struct {
	ShopID            int64           `json:"shop_id"`
	ItemID            int64           `json:"item_id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	AvailableQuantity int64           `json:"available_quantity"`
	ReorderPoint      int64           `json:"reorder_point"`
	MaxQuantity       int64           `json:"max_quantity"`
	Deficit           int64           `json:"deficit"`
	SupplierID        int64           `json:"supplier_id,omitempty"`
	MinOrderQty       int64           `json:"min_order_qty"`
	RecommendedQty    int64           `json:"recommended_qty"`
	EstimatedCost     decimal.Decimal `json:"estimated_cost"`
}

// Advisor computes reorder recommendations. It never writes the ledger.
type Advisor struct {
	repo   RepositoryPort
	cache  *cache.JSONStore
	logger *slog.Logger
}

// NewAdvisor constructs an Advisor. A nil cache disables caching.
func NewAdvisor(repo RepositoryPort, store *cache.JSONStore, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{repo: repo, cache: store, logger: logger}
}

// Recommend lists items to reorder, most urgent first.
func (a *Advisor) Recommend(ctx context.Context, filter ReorderFilter) ([]Recommendation, error) {
	if filter.ShopID == 0 {
		return nil, validationf("shop required")
	}
	key := fmt.Sprintf("shop:%d", filter.ShopID)
	var recs []Recommendation
	hit := false
	if !filter.Fresh {
		var err error
		hit, err = a.cache.Get(ctx, key, &recs)
		if err != nil {
			a.logger.Warn("reorder cache get", slog.Int64("shop_id", filter.ShopID), slog.Any("error", err))
			hit = false
		}
	}
	if !hit {
		var err error
		recs, err = a.compute(ctx, filter.ShopID)
		if err != nil {
			return nil, err
		}
		if err := a.cache.Set(ctx, key, recs); err != nil {
			a.logger.Warn("reorder cache set", slog.Int64("shop_id", filter.ShopID), slog.Any("error", err))
		}
	}
	if filter.Limit > 0 && len(recs) > filter.Limit {
		recs = recs[:filter.Limit]
	}
	return recs, nil
}

// Refresh recomputes and caches the recommendations of a shop.
func (a *Advisor) Refresh(ctx context.Context, shopID int64) ([]Recommendation, error) {
	return a.Recommend(ctx, ReorderFilter{ShopID: shopID, Fresh: true})
}

func (a *Advisor) compute(ctx context.Context, shopID int64) ([]Recommendation, error) {
	candidates, err := a.repo.ReorderCandidates(ctx, shopID)
	if err != nil {
		return nil, err
	}
	recs := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		if !c.NeedsReorder() {
			continue
		}
		recs = append(recs, recommend(c))
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Deficit != recs[j].Deficit {
			return recs[i].Deficit < recs[j].Deficit
		}
		return recs[i].ItemID < recs[j].ItemID
	})
	return recs, nil
}

func recommend(c ReorderCandidate) Recommendation {
	qty := c.MaxQuantity - c.AvailableQuantity
	if qty < 0 {
		qty = 0
	}
	step := c.MinOrderQty
	if step <= 0 {
		step = 1
	}
	if rem := qty % step; rem != 0 {
		qty += step - rem
	}
	price := c.PurchasePrice
	if c.SupplierPrice.Valid {
		price = c.SupplierPrice.Decimal
	}
	return Recommendation{
		ShopID:            c.ShopID,
		ItemID:            c.ItemID,
		SKU:               c.SKU,
		Name:              c.Name,
		AvailableQuantity: c.AvailableQuantity,
		ReorderPoint:      c.ReorderPoint,
		MaxQuantity:       c.MaxQuantity,
		Deficit:           c.AvailableQuantity - c.ReorderPoint,
		SupplierID:        c.SupplierID,
		MinOrderQty:       step,
		RecommendedQty:    qty,
		EstimatedCost:     price.Mul(decimal.NewFromInt(qty)).Round(2),
	}
}
