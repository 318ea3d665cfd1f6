package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/pos"
	"github.com/miazigoo/RepireCRM/internal/procurement"
)

// Notifier delivers staff notifications such as low stock alerts.
type Notifier interface {
	NotifyLowStock(ctx context.Context, evt inventory.LowStockEvent) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

// NotifyLowStock logs the alert at warn level.
func (n LogNotifier) NotifyLowStock(ctx context.Context, evt inventory.LowStockEvent) error {
	loggerOrDefault(n.Logger).WarnContext(ctx, "low stock",
		slog.Int64("shop_id", evt.ShopID),
		slog.Int64("item_id", evt.ItemID),
		slog.String("sku", evt.SKU),
		slog.Int64("available", evt.AvailableQuantity),
		slog.Int64("min", evt.MinQuantity))
	return nil
}

// EventConsumer processes the event tasks written by Publisher.
type EventConsumer struct {
	Notifier Notifier
	Logger   *slog.Logger
}

// NewEventConsumer constructs an EventConsumer. A nil notifier logs alerts.
func NewEventConsumer(notifier Notifier, logger *slog.Logger) *EventConsumer {
	logger = loggerOrDefault(logger)
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	return &EventConsumer{Notifier: notifier, Logger: logger}
}

// Handlers returns the task handlers for the worker mux.
func (c *EventConsumer) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLowStock, Handler: c.handleLowStock},
		{Type: TaskSaleCompleted, Handler: c.handleSaleCompleted},
		{Type: TaskMovementRecorded, Handler: c.handleMovementRecorded},
		{Type: TaskOrderReceived, Handler: c.handleOrderReceived},
	}
}

func decode[T any](t *asynq.Task) (T, error) {
	var v T
	if err := json.Unmarshal(t.Payload(), &v); err != nil {
		return v, fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return v, nil
}

func (c *EventConsumer) handleLowStock(ctx context.Context, t *asynq.Task) error {
	evt, err := decode[inventory.LowStockEvent](t)
	if err != nil {
		return err
	}
	return c.Notifier.NotifyLowStock(ctx, evt)
}

func (c *EventConsumer) handleSaleCompleted(ctx context.Context, t *asynq.Task) error {
	evt, err := decode[pos.SaleCompletedEvent](t)
	if err != nil {
		return err
	}
	c.Logger.InfoContext(ctx, "sale completed",
		slog.String("sale_number", evt.Number),
		slog.Int64("shop_id", evt.ShopID),
		slog.Int64("customer_id", evt.CustomerID),
		slog.String("total", evt.TotalAmount.StringFixed(2)),
		slog.Int("lines", len(evt.Lines)))
	return nil
}

func (c *EventConsumer) handleMovementRecorded(ctx context.Context, t *asynq.Task) error {
	evt, err := decode[inventory.MovementRecordedEvent](t)
	if err != nil {
		return err
	}
	c.Logger.DebugContext(ctx, "movement recorded",
		slog.Int64("movement_id", evt.MovementID),
		slog.Int64("balance_id", evt.BalanceID),
		slog.String("type", string(evt.Type)),
		slog.Int64("change", evt.QuantityChange),
		slog.Int64("after", evt.QuantityAfter))
	return nil
}

func (c *EventConsumer) handleOrderReceived(ctx context.Context, t *asynq.Task) error {
	evt, err := decode[procurement.OrderReceivedEvent](t)
	if err != nil {
		return err
	}
	c.Logger.InfoContext(ctx, "purchase order received",
		slog.String("order_number", evt.Number),
		slog.Int64("supplier_id", evt.SupplierID),
		slog.String("status", string(evt.Status)),
		slog.Int("lines", len(evt.Lines)))
	return nil
}
