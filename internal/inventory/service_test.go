package inventory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/miazigoo/RepireCRM/internal/platform/cache"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

type recordingEvents struct {
	mu       sync.Mutex
	moves    []MovementRecordedEvent
	lowStock []LowStockEvent
}

func (r *recordingEvents) HandleMovementRecorded(_ context.Context, evt MovementRecordedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves = append(r.moves, evt)
	return nil
}

func (r *recordingEvents) HandleLowStock(_ context.Context, evt LowStockEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lowStock = append(r.lowStock, evt)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

type fixture struct {
	store  *MemoryStore
	shops  *shops.MemoryRepository
	svc    *Service
	events *recordingEvents
	audit  *recordingAudit
	shopA  shops.Shop
	shopB  shops.Shop
}

func newFixture(t *testing.T, barcodeCache *cache.JSONStore) *fixture {
	t.Helper()
	ctx := context.Background()
	shopRepo := shops.NewMemoryRepository()
	dir := shops.NewDirectory(shopRepo)
	a, err := dir.Create(ctx, shops.Shop{Code: "A1", Name: "Central"})
	require.NoError(t, err)
	b, err := dir.Create(ctx, shops.Shop{Code: "B1", Name: "North"})
	require.NoError(t, err)
	store := NewMemoryStore()
	events := &recordingEvents{}
	audit := &recordingAudit{}
	svc := NewService(store, dir, audit, ServiceConfig{Events: events, BarcodeCache: barcodeCache})
	return &fixture{store: store, shops: shopRepo, svc: svc, events: events, audit: audit, shopA: a, shopB: b}
}

func (f *fixture) item(t *testing.T, sku string, mutate ...func(*CreateItemInput)) Item {
	t.Helper()
	in := CreateItemInput{
		SKU:           sku,
		Name:          "Item " + sku,
		PurchasePrice: decimal.RequireFromString("100.00"),
		SellingPrice:  decimal.RequireFromString("150.00"),
		TrackQuantity: true,
		ActorID:       1,
	}
	for _, m := range mutate {
		m(&in)
	}
	item, err := f.svc.CreateItem(context.Background(), in)
	require.NoError(t, err)
	return item
}

func (f *fixture) receive(t *testing.T, shopID, itemID, qty int64) Movement {
	t.Helper()
	mv, err := f.svc.ApplyShopMovement(context.Background(), ShopMovementInput{
		ShopID: shopID, ItemID: itemID, Type: MovementReceipt, QuantityChange: qty, ActorID: 1,
	})
	require.NoError(t, err)
	return mv
}

func (f *fixture) balance(t *testing.T, shopID, itemID int64) Balance {
	t.Helper()
	bal, err := f.svc.FindBalance(context.Background(), shopID, itemID)
	require.NoError(t, err)
	return bal
}

func (f *fixture) movements(t *testing.T, itemID int64) []Movement {
	t.Helper()
	rows, err := f.svc.ListMovements(context.Background(), MovementFilter{ItemID: itemID})
	require.NoError(t, err)
	return rows
}

func TestReceiveThenShipChainsQuantities(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "LCD-001")

	f.receive(t, f.shopA.ID, item.ID, 10)
	mv, err := f.svc.ApplyShopMovement(ctx, ShopMovementInput{
		ShopID: f.shopA.ID, ItemID: item.ID, Type: MovementShipment, QuantityChange: -3, ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), mv.QuantityBefore)
	require.Equal(t, int64(7), mv.QuantityAfter)

	bal := f.balance(t, f.shopA.ID, item.ID)
	require.Equal(t, int64(7), bal.Quantity)
	require.Equal(t, int64(7), bal.AvailableQuantity)
	require.NotNil(t, bal.LastMovementAt)

	rows := f.movements(t, item.ID)
	require.Len(t, rows, 2)
	require.Equal(t, int64(0), rows[0].QuantityBefore)
	require.Equal(t, rows[0].QuantityAfter, rows[1].QuantityBefore)
	require.Len(t, f.events.moves, 2)
}

func TestShipmentBeyondStockWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "BAT-002")
	f.receive(t, f.shopA.ID, item.ID, 2)

	_, err := f.svc.ApplyShopMovement(ctx, ShopMovementInput{
		ShopID: f.shopA.ID, ItemID: item.ID, Type: MovementShipment, QuantityChange: -5, ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, int64(5), stockErr.Requested)
	require.Equal(t, int64(2), stockErr.Available)
	require.Equal(t, "BAT-002", stockErr.SKU)

	require.Equal(t, int64(2), f.balance(t, f.shopA.ID, item.ID).Quantity)
	require.Len(t, f.movements(t, item.ID), 1)
}

func TestConcurrentDebitsNeverOversell(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "CAM-003")
	f.receive(t, f.shopA.ID, item.ID, 8)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyShopMovement(ctx, ShopMovementInput{
				ShopID: f.shopA.ID, ItemID: item.ID, Type: MovementShipment, QuantityChange: -5, ActorID: 1,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failed int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientStock)
			failed++
		}
	}
	require.Equal(t, 1, failed)
	require.Equal(t, int64(3), f.balance(t, f.shopA.ID, item.ID).Quantity)
	require.Len(t, f.movements(t, item.ID), 2)
}

func TestNegativeStockPolicies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	service := f.item(t, "SRV-001", func(in *CreateItemInput) {
		in.Type = ItemTypeService
		in.TrackQuantity = false
	})
	backorder := f.item(t, "BO-001", func(in *CreateItemInput) { in.AllowNegativeStock = true })

	_, err := f.svc.ApplyShopMovement(ctx, ShopMovementInput{
		ShopID: f.shopA.ID, ItemID: service.ID, Type: MovementShipment, QuantityChange: -3, ActorID: 1,
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(0), f.balance(t, f.shopA.ID, service.ID).Quantity)
	require.Empty(t, f.movements(t, service.ID))

	mv, err := f.svc.ApplyShopMovement(ctx, ShopMovementInput{
		ShopID: f.shopA.ID, ItemID: backorder.ID, Type: MovementShipment, QuantityChange: -2, ActorID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, int64(-2), mv.QuantityAfter)
}

func TestApplyMovementValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "VAL-001")
	bal := f.balance(t, f.shopA.ID, item.ID)

	_, err := f.svc.ApplyMovement(ctx, MovementRequest{BalanceID: bal.ID, Type: MovementReceipt})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.ApplyMovement(ctx, MovementRequest{BalanceID: bal.ID, Type: "teleport", QuantityChange: 1})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.ApplyMovement(ctx, MovementRequest{BalanceID: bal.ID, Type: MovementReservation, QuantityChange: 1})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.ApplyMovement(ctx, MovementRequest{BalanceID: 9999, Type: MovementReceipt, QuantityChange: 1})
	require.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestInactiveShopRejected(t *testing.T) {
	f := newFixture(t, nil)
	item := f.item(t, "INA-001")
	f.shops.SetActive(f.shopB.ID, false)

	_, err := f.svc.ApplyShopMovement(context.Background(), ShopMovementInput{
		ShopID: f.shopB.ID, ItemID: item.ID, Type: MovementReceipt, QuantityChange: 1, ActorID: 1,
	})
	require.ErrorIs(t, err, shops.ErrInactive)
	require.Equal(t, CodeInvalidShop, ErrorCode(err))
}

func TestReserveAndUnreserve(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "RAM-004")
	f.receive(t, f.shopA.ID, item.ID, 10)
	in := ReserveInput{ShopID: f.shopA.ID, ItemID: item.ID, ActorID: 1, RepairOrderID: 77}

	in.Quantity = 4
	bal, err := f.svc.Reserve(ctx, in)
	require.NoError(t, err)
	require.Equal(t, int64(10), bal.Quantity)
	require.Equal(t, int64(4), bal.ReservedQuantity)
	require.Equal(t, int64(6), bal.AvailableQuantity)

	in.Quantity = 7
	_, err = f.svc.Reserve(ctx, in)
	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, int64(6), stockErr.Available)

	in.Quantity = 5
	_, err = f.svc.Unreserve(ctx, in)
	require.ErrorIs(t, err, ErrValidation)

	in.Quantity = 4
	bal, err = f.svc.Unreserve(ctx, in)
	require.NoError(t, err)
	require.Equal(t, int64(0), bal.ReservedQuantity)
	require.Equal(t, int64(10), bal.AvailableQuantity)

	rows := f.movements(t, item.ID)
	require.Len(t, rows, 3)
	require.Equal(t, MovementReservation, rows[1].Type)
	require.Equal(t, int64(0), rows[1].QuantityChange)
	require.Equal(t, int64(4), rows[1].ReservedChange)
	require.Equal(t, MovementUnreservation, rows[2].Type)
	require.Equal(t, int64(-4), rows[2].ReservedChange)
}

func TestDebitForRepairOrderConsumesReservation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "FLEX-005")
	f.receive(t, f.shopA.ID, item.ID, 5)
	_, err := f.svc.Reserve(ctx, ReserveInput{ShopID: f.shopA.ID, ItemID: item.ID, Quantity: 2, RepairOrderID: 9})
	require.NoError(t, err)

	mv, err := f.svc.DebitForRepairOrder(ctx, RepairDebitInput{
		ShopID: f.shopA.ID, ItemID: item.ID, Quantity: 2, RepairOrderID: 9, ConsumeReservation: true,
	})
	require.NoError(t, err)
	require.Equal(t, MovementShipment, mv.Type)
	require.Equal(t, int64(9), mv.RepairOrderID)
	require.Equal(t, "Repair order 9", mv.Notes)

	bal := f.balance(t, f.shopA.ID, item.ID)
	require.Equal(t, int64(3), bal.Quantity)
	require.Equal(t, int64(0), bal.ReservedQuantity)
	require.Equal(t, int64(3), bal.AvailableQuantity)
}

func TestTransferIsAtomic(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "KEY-006")
	f.receive(t, f.shopA.ID, item.ID, 4)

	out, in, err := f.svc.Transfer(ctx, TransferInput{ItemID: item.ID, FromShopID: f.shopA.ID, ToShopID: f.shopB.ID, Quantity: 3, ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(-3), out.QuantityChange)
	require.Equal(t, int64(3), in.QuantityChange)
	require.Equal(t, int64(1), f.balance(t, f.shopA.ID, item.ID).Quantity)
	require.Equal(t, int64(3), f.balance(t, f.shopB.ID, item.ID).Quantity)

	_, _, err = f.svc.Transfer(ctx, TransferInput{ItemID: item.ID, FromShopID: f.shopA.ID, ToShopID: f.shopB.ID, Quantity: 2, ActorID: 1})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(1), f.balance(t, f.shopA.ID, item.ID).Quantity)
	require.Equal(t, int64(3), f.balance(t, f.shopB.ID, item.ID).Quantity)

	_, _, err = f.svc.Transfer(ctx, TransferInput{ItemID: item.ID, FromShopID: f.shopA.ID, ToShopID: f.shopA.ID, Quantity: 1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestCountRecordsDifference(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "CNT-007")
	f.receive(t, f.shopA.ID, item.ID, 10)

	bal, mv, err := f.svc.Count(ctx, CountInput{ShopID: f.shopA.ID, ItemID: item.ID, Counted: 10})
	require.NoError(t, err)
	require.Nil(t, mv)
	require.NotNil(t, bal.LastInventoryAt)
	require.Len(t, f.movements(t, item.ID), 1)

	bal, mv, err = f.svc.Count(ctx, CountInput{ShopID: f.shopA.ID, ItemID: item.ID, Counted: 7})
	require.NoError(t, err)
	require.NotNil(t, mv)
	require.Equal(t, MovementInventory, mv.Type)
	require.Equal(t, int64(-3), mv.QuantityChange)
	require.Equal(t, int64(7), bal.Quantity)

	_, _, err = f.svc.Count(ctx, CountInput{ShopID: f.shopA.ID, ItemID: item.ID, Counted: -1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestUpdateThresholdsKeepsQuantity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "THR-008")
	f.receive(t, f.shopA.ID, item.ID, 6)
	bal := f.balance(t, f.shopA.ID, item.ID)

	updated, err := f.svc.UpdateThresholds(ctx, ThresholdsInput{BalanceID: bal.ID, MinQuantity: 2, MaxQuantity: 20, ReorderPoint: 4, Shelf: "B3"})
	require.NoError(t, err)
	require.Equal(t, int64(6), updated.Quantity)
	require.Equal(t, "B3", updated.Shelf)

	_, err = f.svc.UpdateThresholds(ctx, ThresholdsInput{BalanceID: bal.ID, MinQuantity: 5, MaxQuantity: 2})
	require.ErrorIs(t, err, ErrValidation)
}

func TestLowStockEventOnlyWhenCrossingMin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "LOW-009")
	f.receive(t, f.shopA.ID, item.ID, 8)

	ship := func(qty int64) {
		_, err := f.svc.ApplyShopMovement(ctx, ShopMovementInput{
			ShopID: f.shopA.ID, ItemID: item.ID, Type: MovementShipment, QuantityChange: -qty,
		})
		require.NoError(t, err)
	}
	ship(2)
	require.Empty(t, f.events.lowStock)
	ship(1)
	require.Len(t, f.events.lowStock, 1)
	require.Equal(t, int64(5), f.events.lowStock[0].AvailableQuantity)
	ship(1)
	require.Len(t, f.events.lowStock, 1)
}

func TestCreateItemSeedsActiveShopsAndPriceHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.shops.SetActive(f.shopB.ID, false)
	item := f.item(t, "NEW-010")
	require.Equal(t, ItemTypeComponent, item.Type)
	require.Equal(t, "pcs", item.Unit)

	bal := f.balance(t, f.shopA.ID, item.ID)
	require.Equal(t, DefaultMinQuantity, bal.MinQuantity)
	require.Equal(t, DefaultMaxQuantity, bal.MaxQuantity)
	require.Equal(t, DefaultReorderPoint, bal.ReorderPoint)
	_, err := f.svc.FindBalance(ctx, f.shopB.ID, item.ID)
	require.ErrorIs(t, err, ErrBalanceNotFound)

	history, err := f.svc.ListPriceHistory(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	_, err = f.svc.UpdatePrices(ctx, item.ID, item.PurchasePrice, decimal.RequireFromString("180.00"), 1)
	require.NoError(t, err)
	history, err = f.svc.ListPriceHistory(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, PriceSelling, history[2].PriceType)
	require.Equal(t, "Selling price changed from 150.00", history[2].Notes)

	_, err = f.svc.CreateItem(ctx, CreateItemInput{SKU: "NEW-010", Name: "dup"})
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestBalanceCreatedInRolledBackTxIsDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "NEW-020")
	errAbort := errors.New("abort")

	err := f.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.EnsureBalance(ctx, f.shopB.ID+100, item.ID)
		require.NoError(t, err)
		_, err = f.store.FindBalance(ctx, f.shopB.ID+100, item.ID)
		require.ErrorIs(t, err, ErrBalanceNotFound)
		_, err = tx.GetBalanceForUpdate(ctx, b.ID)
		require.NoError(t, err)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	_, err = f.store.FindBalance(ctx, f.shopB.ID+100, item.ID)
	require.ErrorIs(t, err, ErrBalanceNotFound)

	err = f.store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.EnsureBalance(ctx, f.shopB.ID+100, item.ID)
		if err != nil {
			return err
		}
		b.Quantity = 4
		b.recompute()
		return tx.UpdateBalance(ctx, b)
	})
	require.NoError(t, err)
	bal, err := f.store.FindBalance(ctx, f.shopB.ID+100, item.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), bal.Quantity)
}

func TestVerifyLedgerAfterMixedActivity(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.item(t, "MIX-011")
	b := f.item(t, "MIX-012")
	f.receive(t, f.shopA.ID, a.ID, 12)
	f.receive(t, f.shopA.ID, b.ID, 3)
	_, err := f.svc.Reserve(ctx, ReserveInput{ShopID: f.shopA.ID, ItemID: a.ID, Quantity: 5})
	require.NoError(t, err)
	_, _, err = f.svc.Transfer(ctx, TransferInput{ItemID: a.ID, FromShopID: f.shopA.ID, ToShopID: f.shopB.ID, Quantity: 4})
	require.NoError(t, err)
	_, _, err = f.svc.Count(ctx, CountInput{ShopID: f.shopA.ID, ItemID: b.ID, Counted: 1})
	require.NoError(t, err)

	report, err := f.svc.VerifyLedger(ctx, f.shopA.ID)
	require.NoError(t, err)
	require.True(t, report.OK(), "%+v", report.Mismatches)
	require.Equal(t, 2, report.Balances)

	bal := f.balance(t, f.shopA.ID, a.ID)
	require.Equal(t, bal.Quantity-bal.ReservedQuantity, bal.AvailableQuantity)
	rows, err := f.svc.ListMovements(ctx, MovementFilter{BalanceID: bal.ID})
	require.NoError(t, err)
	bal.Quantity++
	mismatch, ok := replay(bal, rows)
	require.False(t, ok)
	require.Equal(t, bal.Quantity-1, mismatch.ReplayedQuantity)
	require.Equal(t, "quantity differs from movement sum", mismatch.Reason)
}

func TestBatchReceiptEntriesAreIndependent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "BAT-013")
	cost := decimal.RequireFromString("95.50")

	result, err := f.svc.ReceiveAdHoc(ctx, BatchInput{
		ShopID:      f.shopA.ID,
		ActorID:     1,
		CommonNotes: "Supplier drop",
		Entries: []BatchEntry{
			{Ref: BySKU("BAT-013"), Quantity: 5, CostPerUnit: &cost},
			{Ref: BySKU("MISSING"), Quantity: 1},
			{Ref: ByID(item.ID), Quantity: 0},
			{Ref: ItemRef{Kind: RefAuto, Value: "BAT-013"}, Quantity: 2, Notes: "own note"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 4, result.Processed)
	require.Equal(t, 2, result.OK)
	require.Equal(t, CodeItemNotFound, result.Results[1].Code)
	require.Equal(t, CodeValidation, result.Results[2].Code)
	require.Equal(t, int64(7), result.Results[3].QuantityAfter)

	rows := f.movements(t, item.ID)
	require.Equal(t, "Supplier drop", rows[0].Notes)
	require.Equal(t, "own note", rows[1].Notes)
	costs := f.store.CostHistory(item.ID)
	require.Len(t, costs, 1)
	require.Equal(t, CostSourceAdHoc, costs[0].Source)
	require.True(t, cost.Equal(costs[0].Cost))
}

func TestAdjustByScan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "SCN-014")
	_, err := f.svc.AddBarcode(ctx, item.ID, "4601234567890", 0)
	require.NoError(t, err)

	mv, err := f.svc.AdjustByScan(ctx, ScanAdjustInput{ShopID: f.shopA.ID, ActorID: 3, Code: " 4601234567890 ", Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, MovementAdjustment, mv.Type)
	require.Equal(t, "Adjustment by scan", mv.Notes)

	_, err = f.svc.AdjustByScan(ctx, ScanAdjustInput{ShopID: f.shopA.ID, Code: "000", Quantity: 1})
	require.ErrorIs(t, err, ErrItemNotFound)
	require.Len(t, f.store.ScanEvents(), 2)
}

func TestScanLogsHitsAndMisses(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "SCN-015")
	f.receive(t, f.shopA.ID, item.ID, 4)
	_, err := f.svc.AddBarcode(ctx, item.ID, "2000000000015", 0)
	require.NoError(t, err)

	payload, err := f.svc.Resolver().Scan(ctx, ScanInput{Code: "2000000000015", ScanMeta: ScanMeta{ShopID: f.shopA.ID, Context: ScanContextPOS}})
	require.NoError(t, err)
	require.True(t, payload.Found)
	require.Equal(t, item.ID, payload.ItemID)
	require.Equal(t, int64(4), payload.AvailableQuantity)
	require.True(t, item.SellingPrice.Equal(payload.Price))

	payload, err = f.svc.Resolver().Scan(ctx, ScanInput{Code: "999"})
	require.NoError(t, err)
	require.False(t, payload.Found)

	events := f.store.ScanEvents()
	require.Len(t, events, 2)
	require.Equal(t, item.ID, events[0].ItemID)
	require.Equal(t, ScanContextPOS, events[0].Context)
	require.Equal(t, int64(0), events[1].ItemID)
	require.Equal(t, ScanContextInventory, events[1].Context)
}

type brokenBarcodeStore struct {
	*MemoryStore
}

func (brokenBarcodeStore) FindBarcodeMatches(context.Context, string) ([]BarcodeMatch, error) {
	return nil, errors.New("barcode index unavailable")
}

func TestScanLoggedWhenLookupFails(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewResolver(brokenBarcodeStore{store}, nil, nil)

	_, _, err := resolver.Resolve(context.Background(), ScanInput{Code: "4600000000001", ScanMeta: ScanMeta{ShopID: 2, Context: ScanContextPOS}})
	require.ErrorContains(t, err, "barcode index unavailable")

	events := store.ScanEvents()
	require.Len(t, events, 1)
	require.Equal(t, "4600000000001", events[0].Barcode)
	require.Equal(t, int64(0), events[0].ItemID)
	require.Equal(t, int64(2), events[0].ShopID)
}

func TestSharedBarcodePrefersNewestActiveAssociation(t *testing.T) {
	now := time.Now()
	older := BarcodeMatch{Barcode: ItemBarcode{ID: 1, CreatedAt: now.Add(-time.Hour)}, Item: Item{ID: 10, IsActive: true}}
	newer := BarcodeMatch{Barcode: ItemBarcode{ID: 2, CreatedAt: now}, Item: Item{ID: 20, IsActive: true}}
	inactive := BarcodeMatch{Barcode: ItemBarcode{ID: 3, CreatedAt: now.Add(time.Hour)}, Item: Item{ID: 30}}

	got, ok := pickAssociation([]BarcodeMatch{older, inactive, newer})
	require.True(t, ok)
	require.Equal(t, int64(20), got.Item.ID)

	_, ok = pickAssociation([]BarcodeMatch{inactive})
	require.False(t, ok)

	f := newFixture(t, nil)
	ctx := context.Background()
	first := f.item(t, "DUP-A")
	second := f.item(t, "DUP-B")
	_, err := f.svc.AddBarcode(ctx, first.ID, "555", 0)
	require.NoError(t, err)
	_, err = f.svc.AddBarcode(ctx, second.ID, "555", 0)
	require.NoError(t, err)
	item, found, err := f.svc.Resolver().Resolve(ctx, ScanInput{Code: "555"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, second.ID, item.ID)
}

func TestBarcodeCacheFillAndInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, cache.NewJSONStore(client, "barcode", time.Hour))
	ctx := context.Background()
	item := f.item(t, "CCH-016")
	_, err := f.svc.AddBarcode(ctx, item.ID, "4600000000016", 0)
	require.NoError(t, err)

	_, found, err := f.svc.Resolver().Resolve(ctx, ScanInput{Code: "4600000000016"})
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, mr.Exists("barcode:4600000000016"))

	require.NoError(t, f.svc.RemoveBarcode(ctx, item.ID, "4600000000016"))
	require.False(t, mr.Exists("barcode:4600000000016"))
	_, found, err = f.svc.Resolver().Resolve(ctx, ScanInput{Code: "4600000000016"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestLookupFallsBackAcrossKinds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "FB-017")
	_, err := f.svc.AddBarcode(ctx, item.ID, "777017", 0)
	require.NoError(t, err)

	for _, ref := range []ItemRef{ByID(item.ID), BySKU("FB-017"), ByBarcode("777017"), {Value: "777017"}} {
		got, err := f.svc.Resolver().Lookup(ctx, ref, ScanMeta{})
		require.NoError(t, err)
		require.Equal(t, item.ID, got.ID)
	}
	_, err = f.svc.Resolver().Lookup(ctx, BySKU("777017"), ScanMeta{})
	require.ErrorIs(t, err, ErrItemNotFound)
	_, err = f.svc.Resolver().Lookup(ctx, ItemRef{Kind: "name", Value: "x"}, ScanMeta{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestRecommendRoundsUpToMinOrderQty(t *testing.T) {
	c := ReorderCandidate{
		Balance:       Balance{ShopID: 1, ItemID: 2, Quantity: 3, AvailableQuantity: 3, MaxQuantity: 50, ReorderPoint: 10},
		PurchasePrice: decimal.RequireFromString("10.00"),
		SupplierPrice: decimal.NewNullDecimal(decimal.RequireFromString("8.335")),
		MinOrderQty:   10,
	}
	rec := recommend(c)
	require.Equal(t, int64(50), rec.RecommendedQty)
	require.Equal(t, int64(-7), rec.Deficit)
	require.Equal(t, "416.75", rec.EstimatedCost.StringFixed(2))

	c.SupplierPrice = decimal.NullDecimal{}
	c.MinOrderQty = 0
	rec = recommend(c)
	require.Equal(t, int64(47), rec.RecommendedQty)
	require.Equal(t, "470.00", rec.EstimatedCost.StringFixed(2))
}

func TestAdvisorOrdersByUrgencyAndCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f := newFixture(t, nil)
	ctx := context.Background()
	calm := f.item(t, "ADV-A")
	urgent := f.item(t, "ADV-B")
	f.item(t, "ADV-C")
	f.receive(t, f.shopA.ID, calm.ID, 9)
	f.receive(t, f.shopA.ID, urgent.ID, 1)
	require.NoError(t, f.svc.SetSupplierItem(ctx, SupplierItem{SupplierID: 5, ItemID: urgent.ID, SupplierPrice: decimal.RequireFromString("70"), MinOrderQty: 20, IsPreferred: true}))

	advisor := NewAdvisor(f.store, cache.NewJSONStore(client, "reorder", time.Minute), nil)
	recs, err := advisor.Recommend(ctx, ReorderFilter{ShopID: f.shopA.ID})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, urgent.ID, recs[1].ItemID)
	require.Equal(t, int64(60), recs[1].RecommendedQty)
	require.Equal(t, int64(5), recs[1].SupplierID)
	require.Equal(t, calm.ID, recs[2].ItemID)
	require.True(t, mr.Exists("reorder:shop:"+strconv.FormatInt(f.shopA.ID, 10)))

	f.receive(t, f.shopA.ID, urgent.ID, 40)
	cached, err := advisor.Recommend(ctx, ReorderFilter{ShopID: f.shopA.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, cached, 2)
	require.Equal(t, urgent.ID, cached[1].ItemID)

	fresh, err := advisor.Refresh(ctx, f.shopA.ID)
	require.NoError(t, err)
	require.Len(t, fresh, 2)

	_, err = advisor.Recommend(ctx, ReorderFilter{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAdvisorIgnoresMOQOfNonPreferredSupplier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := f.item(t, "ADV-NP")
	require.NoError(t, f.svc.SetSupplierItem(ctx, SupplierItem{SupplierID: 8, ItemID: item.ID, SupplierPrice: decimal.RequireFromString("90"), MinOrderQty: 12}))

	recs, err := NewAdvisor(f.store, nil, nil).Recommend(ctx, ReorderFilter{ShopID: f.shopA.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(50), recs[0].RecommendedQty)
	require.Equal(t, int64(1), recs[0].MinOrderQty)
	require.Equal(t, "4500.00", recs[0].EstimatedCost.StringFixed(2))
}

func TestTurnoverCountsWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.item(t, "TRN-A")
	b := f.item(t, "TRN-B")
	f.receive(t, f.shopA.ID, a.ID, 10)
	f.receive(t, f.shopA.ID, b.ID, 10)
	_, err := f.svc.ApplyShopMovement(ctx, ShopMovementInput{ShopID: f.shopA.ID, ItemID: b.ID, Type: MovementShipment, QuantityChange: -4})
	require.NoError(t, err)

	rows, err := f.svc.Turnover(ctx, f.shopA.ID, 30)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, b.ID, rows[0].ItemID)
	require.Equal(t, int64(10), rows[0].Received)
	require.Equal(t, int64(4), rows[0].Shipped)
	require.Equal(t, int64(6), rows[0].Net)
	require.Equal(t, int64(2), rows[0].MovementsCount)
}
