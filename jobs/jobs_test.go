package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/miazigoo/RepireCRM/internal/jobs"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/pos"
	"github.com/miazigoo/RepireCRM/internal/procurement"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	ids   map[string]bool
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	if q.ids == nil {
		q.ids = make(map[string]bool)
	}
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id := o.Value().(string)
			if q.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			q.ids[id] = true
		}
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: task.Type()}, nil
}

func TestPublisherEnqueuesEventsOnce(t *testing.T) {
	q := &fakeQueue{}
	p := NewPublisher(q, nil)
	ctx := context.Background()

	sale := pos.SaleCompletedEvent{SaleID: 5, Number: "SAL-A1-000005", ShopID: 1, TotalAmount: decimal.RequireFromString("200.00")}
	require.NoError(t, p.HandleSaleCompleted(ctx, sale))
	require.NoError(t, p.HandleSaleCompleted(ctx, sale))
	require.NoError(t, p.HandleLowStock(ctx, inventory.LowStockEvent{ShopID: 1, ItemID: 2, AvailableQuantity: 1, MinQuantity: 5}))
	require.NoError(t, p.HandleMovementRecorded(ctx, inventory.MovementRecordedEvent{MovementID: 9}))
	require.NoError(t, p.HandleOrderReceived(ctx, procurement.OrderReceivedEvent{OrderID: 3}))

	require.Len(t, q.tasks, 4)
	require.Equal(t, TaskSaleCompleted, q.tasks[0].Type())
	var decoded pos.SaleCompletedEvent
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &decoded))
	require.Equal(t, "SAL-A1-000005", decoded.Number)
	require.True(t, decoded.TotalAmount.Equal(decimal.RequireFromString("200")))
	require.Equal(t, TaskLowStock, q.tasks[1].Type())
	require.Equal(t, TaskMovementRecorded, q.tasks[2].Type())
	require.Equal(t, TaskOrderReceived, q.tasks[3].Type())
}

func TestPublisherWrapsQueueErrors(t *testing.T) {
	boom := errors.New("redis down")
	p := NewPublisher(&fakeQueue{err: boom}, nil)
	err := p.HandleOrderReceived(context.Background(), procurement.OrderReceivedEvent{OrderID: 1})
	require.ErrorIs(t, err, boom)

	var nilPublisher *Publisher
	require.NoError(t, nilPublisher.HandleLowStock(context.Background(), inventory.LowStockEvent{}))
}

type recordingNotifier struct {
	got []inventory.LowStockEvent
}

func (n *recordingNotifier) NotifyLowStock(_ context.Context, evt inventory.LowStockEvent) error {
	n.got = append(n.got, evt)
	return nil
}

func TestEventConsumerHandlesPublishedTasks(t *testing.T) {
	q := &fakeQueue{}
	p := NewPublisher(q, nil)
	ctx := context.Background()
	require.NoError(t, p.HandleLowStock(ctx, inventory.LowStockEvent{ShopID: 1, ItemID: 2, SKU: "LCD-1", AvailableQuantity: 1, MinQuantity: 5}))
	require.NoError(t, p.HandleSaleCompleted(ctx, pos.SaleCompletedEvent{SaleID: 1}))

	notifier := &recordingNotifier{}
	consumer := NewEventConsumer(notifier, nil)
	handlers := make(map[string]asynq.HandlerFunc)
	for _, h := range consumer.Handlers() {
		handlers[h.Type] = h.Handler
	}
	for _, task := range q.tasks {
		require.NoError(t, handlers[task.Type()](ctx, task))
	}
	require.Len(t, notifier.got, 1)
	require.Equal(t, "LCD-1", notifier.got[0].SKU)

	err := handlers[TaskLowStock](ctx, asynq.NewTask(TaskLowStock, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type staticShops []shops.Shop

func (s staticShops) ListActive(context.Context) ([]shops.Shop, error) { return s, nil }

type fakeAdvisor struct {
	mu    sync.Mutex
	calls []int64
	fail  int64
}

func (a *fakeAdvisor) Refresh(_ context.Context, shopID int64) ([]inventory.Recommendation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, shopID)
	if shopID == a.fail {
		return nil, errors.New("db gone")
	}
	return make([]inventory.Recommendation, shopID), nil
}

func TestReorderScanFansOutOverShops(t *testing.T) {
	advisor := &fakeAdvisor{}
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewReorderScanJob(staticShops{{ID: 1}, {ID: 2}, {ID: 3}}, advisor, nil, metrics)

	task, err := NewReorderScanTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.ElementsMatch(t, []int64{1, 2, 3}, advisor.calls)

	advisor.calls = nil
	task, err = NewReorderScanTask(2)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{2}, advisor.calls)

	advisor.fail = 3
	task, err = NewReorderScanTask(0)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

type fakeVerifier map[int64]inventory.VerifyReport

func (v fakeVerifier) VerifyLedger(_ context.Context, shopID int64) (inventory.VerifyReport, error) {
	return v[shopID], nil
}

func TestVerifyLedgerFailsOnMismatch(t *testing.T) {
	verifier := fakeVerifier{
		1: {ShopID: 1, Balances: 3},
		2: {ShopID: 2, Balances: 1, Mismatches: []inventory.LedgerMismatch{{BalanceID: 7, StoredQuantity: 5, ReplayedQuantity: 4, Reason: "quantity"}}},
	}
	job := NewVerifyLedgerJob(staticShops{{ID: 1}, {ID: 2}}, verifier, nil, nil)

	task, err := NewVerifyLedgerTask(1)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	task, err = NewVerifyLedgerTask(0)
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrLedgerMismatch)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIdempotencyCleanupPrunesOldKeys(t *testing.T) {
	store := shared.NewMemoryIdempotency()
	require.NoError(t, store.CheckAndInsert(context.Background(), "0b6f8a7e-0f3c-4c57-9d2a-6d1a8f1f0a11", "pos.finalize"))
	job := NewIdempotencyCleanupJob(store, time.Hour, nil, nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.ErrorIs(t, store.CheckAndInsert(context.Background(), "0b6f8a7e-0f3c-4c57-9d2a-6d1a8f1f0a11", "pos.finalize"), shared.ErrIdempotencyConflict)

	time.Sleep(5 * time.Millisecond)
	task, err = NewIdempotencyCleanupTask(time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.NoError(t, store.CheckAndInsert(context.Background(), "0b6f8a7e-0f3c-4c57-9d2a-6d1a8f1f0a11", "pos.finalize"))
}

type fakeInspector map[string]*asynq.QueueInfo

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{QueueEvents: {Queue: QueueEvents, Pending: 4}}, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, []queueHealth{{Queue: QueueEvents, Pending: 4}, {Queue: QueueDefault}}, out)
}
