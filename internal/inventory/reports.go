package inventory

import (
	"context"
	"time"
)

// BalanceFilter narrows balance listings.
type BalanceFilter struct {
	ShopID       int64
	LowStockOnly bool
	Search       string
	Limit        int
	Offset       int
}

// BalanceView is a balance with its item labels.
type BalanceView struct {
	Balance
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	LowStock bool   `json:"is_low_stock"`
}

// MovementFilter narrows the stock card.
type MovementFilter struct {
	ShopID    int64
	ItemID    int64
	BalanceID int64
	Type      MovementType
	From      time.Time
	To        time.Time
	Limit     int
}

// TurnoverFilter selects the movement window for the turnover report.
type TurnoverFilter struct {
	ShopID int64
	Since  time.Time
}

// TurnoverRow aggregates one item's movements over a window.
type TurnoverRow struct {
	ItemID         int64  `json:"item_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Received       int64  `json:"receipts"`
	Shipped        int64  `json:"shipments"`
	Net            int64  `json:"net"`
	MovementsCount int64  `json:"movements_count"`
}

// LedgerMismatch describes one balance whose stored totals disagree with
// its movement log.
type LedgerMismatch struct {
	BalanceID        int64  `json:"balance_id"`
	ItemID           int64  `json:"item_id"`
	StoredQuantity   int64  `json:"stored_quantity"`
	ReplayedQuantity int64  `json:"replayed_quantity"`
	StoredReserved   int64  `json:"stored_reserved"`
	ReplayedReserved int64  `json:"replayed_reserved"`
	BrokenChainAt    int64  `json:"broken_chain_at,omitempty"`
	Reason           string `json:"reason"`
}

// VerifyReport summarises a ledger replay.
type VerifyReport struct {
	ShopID     int64            `json:"shop_id"`
	Balances   int              `json:"balances"`
	Movements  int              `json:"movements"`
	Mismatches []LedgerMismatch `json:"mismatches"`
	CheckedAt  time.Time        `json:"checked_at"`
}

// OK reports whether every balance replayed cleanly.
func (r VerifyReport) OK() bool { return len(r.Mismatches) == 0 }

// ListMovements returns the stock card in creation order.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ShopID == 0 && filter.ItemID == 0 && filter.BalanceID == 0 {
		return nil, validationf("shop, item or balance required")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, validationf("unknown movement type %q", filter.Type)
	}
	if filter.Limit <= 0 {
		filter.Limit = 500
	}
	return s.repo.ListMovements(ctx, filter)
}

// ListBalances lists balances with item labels.
func (s *Service) ListBalances(ctx context.Context, filter BalanceFilter) ([]BalanceView, error) {
	return s.repo.ListBalances(ctx, filter)
}

// Turnover aggregates receipts and shipments per item over the last days.
func (s *Service) Turnover(ctx context.Context, shopID int64, days int) ([]TurnoverRow, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return s.repo.MovementSummary(ctx, TurnoverFilter{ShopID: shopID, Since: since})
}

const verifyPageSize = 500

// VerifyLedger replays every balance of the shop from zero and reports any
// balance whose stored quantity or reservation differs from its log.
func (s *Service) VerifyLedger(ctx context.Context, shopID int64) (VerifyReport, error) {
	report := VerifyReport{ShopID: shopID, CheckedAt: time.Now().UTC()}
	for offset := 0; ; offset += verifyPageSize {
		page, err := s.repo.ListBalances(ctx, BalanceFilter{ShopID: shopID, Limit: verifyPageSize, Offset: offset})
		if err != nil {
			return VerifyReport{}, err
		}
		for _, view := range page {
			movements, err := s.repo.ListMovements(ctx, MovementFilter{BalanceID: view.ID})
			if err != nil {
				return VerifyReport{}, err
			}
			report.Balances++
			report.Movements += len(movements)
			if mismatch, ok := replay(view.Balance, movements); !ok {
				report.Mismatches = append(report.Mismatches, mismatch)
			}
		}
		if len(page) < verifyPageSize {
			break
		}
	}
	return report, nil
}

func replay(b Balance, movements []Movement) (LedgerMismatch, bool) {
	var qty, reserved int64
	mismatch := LedgerMismatch{BalanceID: b.ID, ItemID: b.ItemID, StoredQuantity: b.Quantity, StoredReserved: b.ReservedQuantity}
	for _, mv := range movements {
		if mv.QuantityBefore != qty || mv.QuantityAfter != mv.QuantityBefore+mv.QuantityChange {
			if mismatch.BrokenChainAt == 0 {
				mismatch.BrokenChainAt = mv.ID
			}
		}
		qty += mv.QuantityChange
		reserved += mv.ReservedChange
	}
	mismatch.ReplayedQuantity = qty
	mismatch.ReplayedReserved = reserved
	switch {
	case mismatch.BrokenChainAt != 0:
		mismatch.Reason = "movement chain broken"
	case qty != b.Quantity:
		mismatch.Reason = "quantity differs from movement sum"
	case reserved != b.ReservedQuantity:
		mismatch.Reason = "reserved differs from reservation sum"
	case b.AvailableQuantity != b.Quantity-b.ReservedQuantity:
		mismatch.Reason = "available is not quantity minus reserved"
	default:
		return LedgerMismatch{}, true
	}
	return mismatch, false
}
