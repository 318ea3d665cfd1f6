package procurement

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/inventory"
)

// POStatus is the purchase order lifecycle state.
type POStatus string

const (
	POStatusDraft             POStatus = "draft"
	POStatusSent              POStatus = "sent"
	POStatusConfirmed         POStatus = "confirmed"
	POStatusPartiallyReceived POStatus = "partially_received"
	POStatusReceived          POStatus = "received"
	POStatusCancelled         POStatus = "cancelled"
)

// Receivable reports whether goods may still be booked against the order.
func (s POStatus) Receivable() bool {
	return s != POStatusCancelled && s != POStatusReceived
}

// PurchaseOrder is an order placed with a supplier for one shop.
type PurchaseOrder struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"order_number"`
	ShopID               int64           `json:"shop_id"`
	SupplierID           int64           `json:"supplier_id"`
	Status               POStatus        `json:"status"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Notes                string          `json:"notes"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
	ActualDeliveryDate   *time.Time      `json:"actual_delivery_date,omitempty"`
	CreatedBy            int64           `json:"created_by,omitempty"`
	ApprovedBy           int64           `json:"approved_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	Lines                []Line          `json:"lines"`
}

// Line is one ordered item.
type Line struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"purchase_order_id"`
	ItemID           int64           `json:"item_id"`
	OrderedQuantity  int64           `json:"ordered_quantity"`
	ReceivedQuantity int64           `json:"received_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalPrice       decimal.Decimal `json:"total_price"`
}

// Outstanding is the quantity still expected from the supplier.
func (l Line) Outstanding() int64 {
	if l.ReceivedQuantity >= l.OrderedQuantity {
		return 0
	}
	return l.OrderedQuantity - l.ReceivedQuantity
}

func (o *PurchaseOrder) recompute() {
	subtotal := decimal.Zero
	for i := range o.Lines {
		o.Lines[i].TotalPrice = o.Lines[i].UnitPrice.Mul(decimal.NewFromInt(o.Lines[i].OrderedQuantity))
		subtotal = subtotal.Add(o.Lines[i].TotalPrice)
	}
	o.Subtotal = subtotal
	o.TotalAmount = subtotal.Add(o.TaxAmount)
}

// deriveStatus maps received totals onto the order status. Nothing received
// keeps the current status.
func (o PurchaseOrder) deriveStatus() POStatus {
	var ordered, received int64
	for _, l := range o.Lines {
		ordered += l.OrderedQuantity
		received += min(l.ReceivedQuantity, l.OrderedQuantity)
	}
	switch {
	case received == 0:
		return o.Status
	case received >= ordered:
		return POStatusReceived
	default:
		return POStatusPartiallyReceived
	}
}

func (o PurchaseOrder) line(id int64) (int, bool) {
	for i, l := range o.Lines {
		if l.ID == id {
			return i, true
		}
	}
	return -1, false
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("procurement: %w", inventory.ErrInvalidState)
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("procurement: %w", inventory.ErrValidation)
)
