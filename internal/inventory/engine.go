package inventory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MovementRequest describes one ledger write against a balance.
type MovementRequest struct {
	BalanceID       int64
	Type            MovementType
	QuantityChange  int64
	ActorID         int64
	Notes           string
	ReferenceNumber string
	PurchaseOrderID int64
	RepairOrderID   int64
	SaleID          int64
	CostPerUnit     decimal.NullDecimal
}

func (r MovementRequest) validate() error {
	if !r.Type.Valid() {
		return validationf("unknown movement type %q", r.Type)
	}
	if r.Type.reservation() {
		return validationf("%s movements go through reserve", r.Type)
	}
	if r.QuantityChange == 0 {
		return validationf("quantity change must be non zero")
	}
	if r.CostPerUnit.Valid && r.CostPerUnit.Decimal.IsNegative() {
		return validationf("cost per unit must be >= 0")
	}
	return nil
}

// ReserveRequest holds or releases stock. Positive Quantity reserves,
// negative releases.
type ReserveRequest struct {
	BalanceID     int64
	Quantity      int64
	ActorID       int64
	Notes         string
	RepairOrderID int64
	SaleID        int64
}

// Applied is the outcome of a committed-to-be movement.
type Applied struct {
	Movement      Movement
	Balance       Balance
	Item          Item
	PrevAvailable int64
}

// CrossedMin reports whether this movement took available stock from above
// the min threshold to at or below it.
func (a Applied) CrossedMin() bool {
	return a.PrevAvailable > a.Balance.MinQuantity && a.Balance.AvailableQuantity <= a.Balance.MinQuantity
}

// Engine applies movements inside a caller-owned transaction. It is the only
// code that writes Balance.Quantity.
type Engine struct {
	now func() time.Time
}

// NewEngine constructs an Engine.
func NewEngine() *Engine {
	return &Engine{now: func() time.Time { return time.Now().UTC() }}
}

// Apply locks the balance, checks the negative-stock guard and appends the
// movement. Nothing is written when the guard rejects.
func (e *Engine) Apply(ctx context.Context, tx TxRepository, req MovementRequest) (Applied, error) {
	if err := req.validate(); err != nil {
		return Applied{}, err
	}
	if req.BalanceID == 0 {
		return Applied{}, validationf("balance required")
	}
	bal, err := tx.GetBalanceForUpdate(ctx, req.BalanceID)
	if err != nil {
		return Applied{}, err
	}
	item, err := tx.GetItem(ctx, bal.ItemID)
	if err != nil {
		return Applied{}, err
	}
	before := bal.Quantity
	after := before + req.QuantityChange
	if after < 0 && !item.negativeAllowed() {
		return Applied{}, &InsufficientStockError{
			ShopID:    bal.ShopID,
			ItemID:    item.ID,
			SKU:       item.SKU,
			Requested: -req.QuantityChange,
			Available: before,
		}
	}
	prevAvailable := bal.AvailableQuantity
	now := e.now()
	bal.Quantity = after
	bal.recompute()
	bal.LastMovementAt = &now
	if req.Type == MovementInventory {
		bal.LastInventoryAt = &now
	}
	if err := tx.UpdateBalance(ctx, bal); err != nil {
		return Applied{}, err
	}
	mv, err := tx.InsertMovement(ctx, Movement{
		BalanceID:       bal.ID,
		ShopID:          bal.ShopID,
		ItemID:          bal.ItemID,
		Type:            req.Type,
		QuantityBefore:  before,
		QuantityChange:  req.QuantityChange,
		QuantityAfter:   after,
		PurchaseOrderID: req.PurchaseOrderID,
		RepairOrderID:   req.RepairOrderID,
		SaleID:          req.SaleID,
		CostPerUnit:     req.CostPerUnit,
		ReferenceNumber: req.ReferenceNumber,
		Notes:           req.Notes,
		CreatedBy:       req.ActorID,
		CreatedAt:       now,
	})
	if err != nil {
		return Applied{}, err
	}
	return Applied{Movement: mv, Balance: bal, Item: item, PrevAvailable: prevAvailable}, nil
}

// Reserve adjusts ReservedQuantity under the balance lock and records a
// reservation or unreservation row with zero quantity change.
func (e *Engine) Reserve(ctx context.Context, tx TxRepository, req ReserveRequest) (Applied, error) {
	if req.BalanceID == 0 {
		return Applied{}, validationf("balance required")
	}
	if req.Quantity == 0 {
		return Applied{}, validationf("quantity must be non zero")
	}
	bal, err := tx.GetBalanceForUpdate(ctx, req.BalanceID)
	if err != nil {
		return Applied{}, err
	}
	item, err := tx.GetItem(ctx, bal.ItemID)
	if err != nil {
		return Applied{}, err
	}
	mvType := MovementReservation
	if req.Quantity > 0 {
		if bal.AvailableQuantity < req.Quantity && !item.negativeAllowed() {
			return Applied{}, &InsufficientStockError{
				ShopID:    bal.ShopID,
				ItemID:    item.ID,
				SKU:       item.SKU,
				Requested: req.Quantity,
				Available: bal.AvailableQuantity,
			}
		}
	} else {
		mvType = MovementUnreservation
		if bal.ReservedQuantity < -req.Quantity {
			return Applied{}, validationf("cannot release %d, only %d reserved", -req.Quantity, bal.ReservedQuantity)
		}
	}
	prevAvailable := bal.AvailableQuantity
	now := e.now()
	bal.ReservedQuantity += req.Quantity
	bal.recompute()
	bal.LastMovementAt = &now
	if err := tx.UpdateBalance(ctx, bal); err != nil {
		return Applied{}, err
	}
	mv, err := tx.InsertMovement(ctx, Movement{
		BalanceID:      bal.ID,
		ShopID:         bal.ShopID,
		ItemID:         bal.ItemID,
		Type:           mvType,
		QuantityBefore: bal.Quantity,
		QuantityAfter:  bal.Quantity,
		ReservedChange: req.Quantity,
		RepairOrderID:  req.RepairOrderID,
		SaleID:         req.SaleID,
		Notes:          req.Notes,
		CreatedBy:      req.ActorID,
		CreatedAt:      now,
	})
	if err != nil {
		return Applied{}, err
	}
	return Applied{Movement: mv, Balance: bal, Item: item, PrevAvailable: prevAvailable}, nil
}

// LockBalances takes row locks on every id in ascending order. Callers that
// touch more than one balance in a transaction lock through here first.
func LockBalances(ctx context.Context, tx TxRepository, ids []int64) error {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var prev int64
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		prev = id
		if _, err := tx.GetBalanceForUpdate(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
