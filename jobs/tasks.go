package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault carries scheduled maintenance work.
	QueueDefault = "default"
	// QueueEvents carries domain events for downstream consumers.
	QueueEvents = "events"
)

// Task types handled by the worker.
const (
	TaskSaleCompleted      = "events:sale_completed"
	TaskLowStock           = "events:low_stock"
	TaskMovementRecorded   = "events:movement_recorded"
	TaskOrderReceived      = "events:purchase_order_received"
	TaskReorderScan        = "inventory:reorder_scan"
	TaskVerifyLedger       = "inventory:verify_ledger"
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ShopScopePayload limits a scheduled job to one shop. Zero means every
// active shop.
type ShopScopePayload struct {
	ShopID int64 `json:"shop_id,omitempty"`
}

// CleanupPayload configures idempotency key retention.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewReorderScanTask constructs the reorder scan task.
func NewReorderScanTask(shopID int64) (*asynq.Task, error) {
	return newTask(TaskReorderScan, ShopScopePayload{ShopID: shopID}, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

// NewVerifyLedgerTask constructs the ledger replay task.
func NewVerifyLedgerTask(shopID int64) (*asynq.Task, error) {
	return newTask(TaskVerifyLedger, ShopScopePayload{ShopID: shopID}, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// NewIdempotencyCleanupTask constructs the key pruning task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, CleanupPayload{OlderThan: olderThan}, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
}

func newTask(typename string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typename, body, opts...), nil
}
