package pos

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/inventory"
)

// Status is the lifecycle state of a retail sale.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Sale is a point-of-sale transaction header with its lines.
type Sale struct {
	ID             int64           `json:"id"`
	Number         string          `json:"sale_number"`
	ShopID         int64           `json:"shop_id"`
	CashierID      int64           `json:"cashier_id"`
	CustomerID     int64           `json:"customer_id,omitempty"`
	Status         Status          `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Notes          string          `json:"notes"`
	PaymentID      int64           `json:"payment_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Lines          []Line          `json:"lines"`
}

// Line is one item of a sale. A sale holds at most one line per item.
type Line struct {
	ID         int64           `json:"id"`
	SaleID     int64           `json:"sale_id"`
	ItemID     int64           `json:"item_id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

func (l *Line) recompute() {
	l.TotalPrice = l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// recompute refreshes line totals, the subtotal and the total.
func (s *Sale) recompute() {
	subtotal := decimal.Zero
	for i := range s.Lines {
		s.Lines[i].recompute()
		subtotal = subtotal.Add(s.Lines[i].TotalPrice)
	}
	s.Subtotal = subtotal
	s.TotalAmount = s.Subtotal.Sub(s.DiscountAmount)
}

func (s *Sale) line(itemID int64) (int, bool) {
	for i, l := range s.Lines {
		if l.ItemID == itemID {
			return i, true
		}
	}
	return -1, false
}

func (s Sale) requireDraft() error {
	if s.Status != StatusDraft {
		return fmt.Errorf("%w: sale %s is %s", ErrInvalidState, s.Number, s.Status)
	}
	return nil
}

// SaleCompletedEvent is published after a sale commits.
type SaleCompletedEvent struct {
	SaleID      int64           `json:"sale_id"`
	Number      string          `json:"sale_number"`
	ShopID      int64           `json:"shop_id"`
	CashierID   int64           `json:"cashier_id"`
	CustomerID  int64           `json:"customer_id,omitempty"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaymentID   int64           `json:"payment_id,omitempty"`
	Lines       []SoldLine      `json:"lines"`
	CompletedAt time.Time       `json:"completed_at"`
}

// SoldLine summarises one line of a completed sale.
type SoldLine struct {
	ItemID    int64           `json:"item_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

var (
	// ErrInvalidState indicates the sale status forbids the operation.
	ErrInvalidState = fmt.Errorf("pos: %w", inventory.ErrInvalidState)
	// ErrPOSDisabled indicates barcode sales are switched off for the shop.
	ErrPOSDisabled = fmt.Errorf("%w: point of sale disabled for shop", ErrInvalidState)
	// ErrValidation indicates invalid sale input.
	ErrValidation = fmt.Errorf("pos: %w", inventory.ErrValidation)
	// ErrSaleNotFound indicates the sale does not exist.
	ErrSaleNotFound = errors.New("pos: sale not found")
)
