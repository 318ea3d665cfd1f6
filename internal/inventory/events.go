package inventory

import (
	"context"
	"time"
)

// MovementRecordedEvent is published after a movement commits.
type MovementRecordedEvent struct {
	MovementID     int64        `json:"movement_id"`
	BalanceID      int64        `json:"balance_id"`
	ShopID         int64        `json:"shop_id"`
	ItemID         int64        `json:"item_id"`
	Type           MovementType `json:"movement_type"`
	QuantityChange int64        `json:"quantity_change"`
	QuantityAfter  int64        `json:"quantity_after"`
	ReservedChange int64        `json:"reserved_change"`
	RecordedAt     time.Time    `json:"recorded_at"`
}

// LowStockEvent is published when available stock crosses the min threshold.
type LowStockEvent struct {
	ShopID            int64     `json:"shop_id"`
	ItemID            int64     `json:"item_id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	AvailableQuantity int64     `json:"available_quantity"`
	MinQuantity       int64     `json:"min_quantity"`
	DetectedAt        time.Time `json:"detected_at"`
}

// IntegrationHandler receives ledger events for downstream consumers.
type IntegrationHandler interface {
	HandleMovementRecorded(ctx context.Context, evt MovementRecordedEvent) error
	HandleLowStock(ctx context.Context, evt LowStockEvent) error
}

// LedgerMetrics counts ledger activity.
type LedgerMetrics interface {
	ObserveMovement(movementType string)
	ObserveRejection(reason string)
}

func movementEvent(a Applied) MovementRecordedEvent {
	return MovementRecordedEvent{
		MovementID:     a.Movement.ID,
		BalanceID:      a.Movement.BalanceID,
		ShopID:         a.Movement.ShopID,
		ItemID:         a.Movement.ItemID,
		Type:           a.Movement.Type,
		QuantityChange: a.Movement.QuantityChange,
		QuantityAfter:  a.Movement.QuantityAfter,
		ReservedChange: a.Movement.ReservedChange,
		RecordedAt:     a.Movement.CreatedAt,
	}
}

func lowStockEvent(a Applied) LowStockEvent {
	return LowStockEvent{
		ShopID:            a.Balance.ShopID,
		ItemID:            a.Item.ID,
		SKU:               a.Item.SKU,
		Name:              a.Item.Name,
		AvailableQuantity: a.Balance.AvailableQuantity,
		MinQuantity:       a.Balance.MinQuantity,
		DetectedAt:        a.Movement.CreatedAt,
	}
}
