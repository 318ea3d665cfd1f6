package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/pos"
	"github.com/miazigoo/RepireCRM/internal/procurement"
)

// Enqueuer is the part of asynq.Client the publisher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher turns committed domain events into asynq tasks. It implements the
// integration hooks of the inventory, pos and procurement services.
type Publisher struct {
	queue  Enqueuer
	logger *slog.Logger
}

var (
	_ inventory.IntegrationHandler   = (*Publisher)(nil)
	_ pos.EventHandler               = (*Publisher)(nil)
	_ procurement.IntegrationHandler = (*Publisher)(nil)
)

// NewPublisher constructs a Publisher.
func NewPublisher(queue Enqueuer, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// HandleMovementRecorded enqueues events:movement_recorded.
func (p *Publisher) HandleMovementRecorded(ctx context.Context, evt inventory.MovementRecordedEvent) error {
	return p.publish(ctx, TaskMovementRecorded, evt, fmt.Sprintf("movement:%d", evt.MovementID))
}

// HandleLowStock enqueues events:low_stock. While an alert for the item is
// still queued a second one is dropped.
func (p *Publisher) HandleLowStock(ctx context.Context, evt inventory.LowStockEvent) error {
	return p.publish(ctx, TaskLowStock, evt, fmt.Sprintf("low-stock:%d:%d", evt.ShopID, evt.ItemID))
}

// HandleSaleCompleted enqueues events:sale_completed.
func (p *Publisher) HandleSaleCompleted(ctx context.Context, evt pos.SaleCompletedEvent) error {
	return p.publish(ctx, TaskSaleCompleted, evt, fmt.Sprintf("sale:%d", evt.SaleID))
}

// HandleOrderReceived enqueues events:purchase_order_received.
func (p *Publisher) HandleOrderReceived(ctx context.Context, evt procurement.OrderReceivedEvent) error {
	return p.publish(ctx, TaskOrderReceived, evt, "")
}

func (p *Publisher) publish(ctx context.Context, typename string, payload any, taskID string) error {
	if p == nil || p.queue == nil {
		return nil
	}
	opts := []asynq.Option{asynq.Queue(QueueEvents), asynq.MaxRetry(10)}
	if taskID != "" {
		opts = append(opts, asynq.TaskID(taskID))
	}
	task, err := newTask(typename, payload)
	if err != nil {
		return err
	}
	info, err := p.queue.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if taskID != "" && errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("jobs: enqueue %s: %w", typename, err)
	}
	if info != nil {
		p.logger.DebugContext(ctx, "event enqueued", slog.String("type", typename), slog.String("task_id", info.ID))
	}
	return nil
}
