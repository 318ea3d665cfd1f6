package procurement

import (
	"context"
	"time"
)

// ReceivedLineEvent describes the quantity booked for one order line.
type ReceivedLineEvent struct {
	LineID   int64 `json:"line_id"`
	ItemID   int64 `json:"item_id"`
	Quantity int64 `json:"quantity"`
}

// OrderReceivedEvent is published after goods were booked against an order.
type OrderReceivedEvent struct {
	OrderID    int64               `json:"order_id"`
	Number     string              `json:"order_number"`
	ShopID     int64               `json:"shop_id"`
	SupplierID int64               `json:"supplier_id"`
	Status     POStatus            `json:"status"`
	Lines      []ReceivedLineEvent `json:"lines"`
	ReceivedAt time.Time           `json:"received_at"`
}

// IntegrationHandler receives procurement events.
type IntegrationHandler interface {
	HandleOrderReceived(ctx context.Context, evt OrderReceivedEvent) error
}
