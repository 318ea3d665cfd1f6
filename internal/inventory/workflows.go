package inventory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// BatchEntry is one line of an ad-hoc receipt or adjustment.
type BatchEntry struct {
	Ref         ItemRef          `json:"item"`
	Quantity    int64            `json:"quantity"`
	Notes       string           `json:"notes"`
	CostPerUnit *decimal.Decimal `json:"cost_per_unit,omitempty"`
}

// BatchInput groups entries applied to one shop.
type BatchInput struct {
	ShopID      int64
	ActorID     int64
	Entries     []BatchEntry
	CommonNotes string
}

// Entry statuses.
const (
	EntryOK   = "ok"
	EntryFail = "fail"
)

// EntryResult reports the outcome of one batch entry.
type EntryResult struct {
	Index         int    `json:"index"`
	Status        string `json:"status"`
	ItemID        int64  `json:"item_id,omitempty"`
	MovementID    int64  `json:"movement_id,omitempty"`
	QuantityAfter int64  `json:"quantity_after,omitempty"`
	Code          string `json:"code,omitempty"`
	Error         string `json:"error,omitempty"`
}

// BatchResult summarises a batch. Entries succeed or fail independently.
type BatchResult struct {
	Processed int           `json:"processed"`
	OK        int           `json:"ok"`
	Results   []EntryResult `json:"results"`
}

func (r *BatchResult) add(res EntryResult) {
	r.Processed++
	if res.Status == EntryOK {
		r.OK++
	}
	r.Results = append(r.Results, res)
}

// ReceiveAdHoc receives stock without a purchase order. Each entry commits
// on its own.
func (s *Service) ReceiveAdHoc(ctx context.Context, input BatchInput) (BatchResult, error) {
	return s.runBatch(ctx, input, MovementReceipt, func(e BatchEntry) error {
		if e.Quantity <= 0 {
			return validationf("quantity must be positive")
		}
		if e.CostPerUnit != nil && e.CostPerUnit.IsNegative() {
			return validationf("cost per unit must be >= 0")
		}
		return nil
	})
}

// AdjustAdHoc applies signed corrections. Each entry commits on its own.
func (s *Service) AdjustAdHoc(ctx context.Context, input BatchInput) (BatchResult, error) {
	return s.runBatch(ctx, input, MovementAdjustment, func(e BatchEntry) error {
		if e.Quantity == 0 {
			return validationf("quantity must be non zero")
		}
		return nil
	})
}

func (s *Service) runBatch(ctx context.Context, input BatchInput, mvType MovementType, check func(BatchEntry) error) (BatchResult, error) {
	if _, err := s.shops.RequireActive(ctx, input.ShopID); err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{Results: make([]EntryResult, 0, len(input.Entries))}
	for i, entry := range input.Entries {
		res := EntryResult{Index: i, Status: EntryOK}
		applied, err := s.applyEntry(ctx, input, entry, mvType, check)
		if err != nil {
			res.Status = EntryFail
			res.Code = ErrorCode(err)
			res.Error = err.Error()
			s.reject(err)
			if res.Code == CodeInternal {
				s.logger.Error("batch entry failed", slog.Int("index", i), slog.String("type", string(mvType)), slog.Any("error", err))
			}
		} else {
			res.ItemID = applied.Item.ID
			res.MovementID = applied.Movement.ID
			res.QuantityAfter = applied.Movement.QuantityAfter
			s.RecordApplied(ctx, applied)
		}
		result.add(res)
	}
	return result, nil
}

func (s *Service) applyEntry(ctx context.Context, input BatchInput, entry BatchEntry, mvType MovementType, check func(BatchEntry) error) (Applied, error) {
	if err := check(entry); err != nil {
		return Applied{}, err
	}
	item, err := s.resolver.Lookup(ctx, entry.Ref, ScanMeta{
		ShopID:   input.ShopID,
		UserID:   input.ActorID,
		Context:  ScanContextInventory,
		Quantity: entry.Quantity,
		Notes:    entry.Notes,
	})
	if err != nil {
		return Applied{}, err
	}
	notes := input.CommonNotes
	if entry.Notes != "" {
		notes = entry.Notes
	}
	req := MovementRequest{
		Type:           mvType,
		QuantityChange: entry.Quantity,
		ActorID:        input.ActorID,
		Notes:          notes,
	}
	if entry.CostPerUnit != nil {
		req.CostPerUnit = decimal.NewNullDecimal(*entry.CostPerUnit)
	}
	var applied Applied
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.EnsureBalance(ctx, input.ShopID, item.ID)
		if err != nil {
			return err
		}
		req.BalanceID = bal.ID
		applied, err = s.engine.Apply(ctx, tx, req)
		if err != nil {
			return err
		}
		if mvType == MovementReceipt && entry.CostPerUnit != nil {
			return tx.InsertCostHistory(ctx, CostHistory{
				ItemID:     item.ID,
				ShopID:     input.ShopID,
				Source:     CostSourceAdHoc,
				Cost:       *entry.CostPerUnit,
				Quantity:   entry.Quantity,
				Notes:      notes,
				ReceivedAt: applied.Movement.CreatedAt,
			})
		}
		return nil
	})
	return applied, err
}

// ScanAdjustInput adjusts stock of the item behind a scanned code.
type ScanAdjustInput struct {
	ShopID   int64
	ActorID  int64
	Code     string
	Quantity int64
	Notes    string
}

// AdjustByScan resolves the code in inventory context and applies an
// adjustment to the matching item.
func (s *Service) AdjustByScan(ctx context.Context, input ScanAdjustInput) (Movement, error) {
	if input.Quantity == 0 {
		return Movement{}, validationf("quantity must be non zero")
	}
	if _, err := s.shops.RequireActive(ctx, input.ShopID); err != nil {
		return Movement{}, err
	}
	notes := input.Notes
	if notes == "" {
		notes = "Adjustment by scan"
	}
	item, found, err := s.resolver.Resolve(ctx, ScanInput{Code: input.Code, ScanMeta: ScanMeta{
		ShopID:   input.ShopID,
		UserID:   input.ActorID,
		Context:  ScanContextInventory,
		Quantity: input.Quantity,
		Notes:    notes,
	}})
	if err != nil {
		return Movement{}, err
	}
	if !found {
		return Movement{}, fmt.Errorf("%w: barcode %s", ErrItemNotFound, NormalizeBarcode(input.Code))
	}
	return s.ApplyShopMovement(ctx, ShopMovementInput{
		ShopID:         input.ShopID,
		ItemID:         item.ID,
		Type:           MovementAdjustment,
		QuantityChange: input.Quantity,
		ActorID:        input.ActorID,
		Notes:          notes,
	})
}
