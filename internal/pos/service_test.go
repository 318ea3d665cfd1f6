package pos

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingSales struct {
	mu     sync.Mutex
	events []SaleCompletedEvent
}

func (r *recordingSales) HandleSaleCompleted(_ context.Context, evt SaleCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type fixture struct {
	ledger   *inventory.MemoryStore
	payments *finance.MemoryStore
	shopRepo *shops.MemoryRepository
	dir      *shops.Directory
	inv      *inventory.Service
	svc      *Service
	events   *recordingSales
	shop     shops.Shop
	register finance.CashRegister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	shopRepo := shops.NewMemoryRepository()
	dir := shops.NewDirectory(shopRepo)
	shop, err := dir.Create(ctx, shops.Shop{Code: "A1", Name: "Central"})
	require.NoError(t, err)
	require.NoError(t, dir.SaveSettings(ctx, shops.Settings{ShopID: shop.ID, POSBarcodeEnabled: true}))

	ledger := inventory.NewMemoryStore()
	inv := inventory.NewService(ledger, dir, nil, inventory.ServiceConfig{})
	payments := finance.NewMemoryStore()
	payments.AddMethod(finance.PaymentMethod{Code: "cash", Name: "Cash", IsCash: true, IsActive: true})
	payments.AddMethod(finance.PaymentMethod{Code: "card", Name: "Card", FeePercent: dec("2"), IsActive: true})
	register := payments.AddRegister(finance.CashRegister{ShopID: shop.ID, Name: "Till", CashBalance: dec("0"), IsActive: true})

	events := &recordingSales{}
	svc := NewService(NewMemoryStore(ledger, payments), inv, dir, finance.NewRecorder(), Config{
		Idempotency: shared.NewMemoryIdempotency(),
		Events:      events,
	})
	return &fixture{
		ledger: ledger, payments: payments, shopRepo: shopRepo, dir: dir, inv: inv,
		svc: svc, events: events, shop: shop, register: register,
	}
}

func (f *fixture) stockedItem(t *testing.T, sku, price string, qty int64) inventory.Item {
	t.Helper()
	ctx := context.Background()
	item, err := f.inv.CreateItem(ctx, inventory.CreateItemInput{
		SKU: sku, Name: "Item " + sku, SellingPrice: dec(price), PurchasePrice: dec("1"), TrackQuantity: true, ActorID: 1,
	})
	require.NoError(t, err)
	if qty > 0 {
		_, err = f.inv.ApplyShopMovement(ctx, inventory.ShopMovementInput{
			ShopID: f.shop.ID, ItemID: item.ID, Type: inventory.MovementReceipt, QuantityChange: qty, ActorID: 1,
		})
		require.NoError(t, err)
	}
	return item
}

func (f *fixture) onHand(t *testing.T, itemID int64) int64 {
	t.Helper()
	bal, err := f.inv.FindBalance(context.Background(), f.shop.ID, itemID)
	require.NoError(t, err)
	return bal.Quantity
}

func (f *fixture) start(t *testing.T) Sale {
	t.Helper()
	sale, err := f.svc.StartSale(context.Background(), StartSaleInput{ShopID: f.shop.ID, CashierID: 9})
	require.NoError(t, err)
	return sale
}

func (f *fixture) add(t *testing.T, saleID int64, ref inventory.ItemRef, qty int64) Sale {
	t.Helper()
	sale, err := f.svc.AddLine(context.Background(), AddLineInput{SaleID: saleID, Ref: ref, Quantity: qty, ActorID: 9})
	require.NoError(t, err)
	return sale
}

func TestSaleTotalsWithDiscount(t *testing.T) {
	f := newFixture(t)
	a := f.stockedItem(t, "A", "100", 5)
	b := f.stockedItem(t, "B", "50", 5)
	sale := f.start(t)
	require.Equal(t, "SAL-A1-000001", sale.Number)
	require.Equal(t, StatusDraft, sale.Status)

	f.add(t, sale.ID, inventory.ByID(a.ID), 2)
	sale = f.add(t, sale.ID, inventory.BySKU("B"), 1)
	require.Equal(t, "250.00", sale.Subtotal.StringFixed(2))

	sale, err := f.svc.SetDiscount(context.Background(), sale.ID, dec("50"))
	require.NoError(t, err)
	require.Equal(t, "200.00", sale.TotalAmount.StringFixed(2))

	_, err = f.svc.SetDiscount(context.Background(), sale.ID, dec("251"))
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.SetDiscount(context.Background(), sale.ID, dec("-1"))
	require.ErrorIs(t, err, ErrValidation)

	got, err := f.svc.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Equal(t, "50.00", got.DiscountAmount.StringFixed(2))
	require.Len(t, got.Lines, 2)
	require.Equal(t, b.ID, got.Lines[1].ItemID)
}

func TestAddLineAccumulatesAndResnapshotsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.stockedItem(t, "CASE-1", "20", 10)
	_, err := f.inv.AddBarcode(ctx, item.ID, "4600000000011", 0)
	require.NoError(t, err)
	sale := f.start(t)

	f.add(t, sale.ID, inventory.ByBarcode("4600000000011"), 2)
	_, err = f.inv.UpdatePrices(ctx, item.ID, dec("1"), dec("25"), 1)
	require.NoError(t, err)
	sale = f.add(t, sale.ID, inventory.ByBarcode(" 4600000000011 "), 3)

	require.Len(t, sale.Lines, 1)
	require.Equal(t, int64(5), sale.Lines[0].Quantity)
	require.Equal(t, "25.00", sale.Lines[0].UnitPrice.StringFixed(2))
	require.Equal(t, "125.00", sale.TotalAmount.StringFixed(2))

	sale = f.add(t, sale.ID, inventory.ByID(item.ID), 0)
	require.Equal(t, int64(6), sale.Lines[0].Quantity)

	sale, err = f.svc.UpdateLineQuantity(ctx, sale.ID, item.ID, 1)
	require.NoError(t, err)
	require.Equal(t, "25.00", sale.Subtotal.StringFixed(2))

	sale, err = f.svc.UpdateLineQuantity(ctx, sale.ID, item.ID, 0)
	require.NoError(t, err)
	require.Empty(t, sale.Lines)
	require.True(t, sale.TotalAmount.IsZero())

	_, err = f.svc.AddLine(ctx, AddLineInput{SaleID: sale.ID, Ref: inventory.ByBarcode("0000"), Quantity: 1})
	require.ErrorIs(t, err, inventory.ErrItemNotFound)
}

func TestFinalizeDebitsStockAndCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "100", 5)
	b := f.stockedItem(t, "B", "50", 5)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 2)
	f.add(t, sale.ID, inventory.ByID(b.ID), 1)

	done, err := f.svc.Finalize(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.Zero(t, done.PaymentID)
	require.Equal(t, int64(3), f.onHand(t, a.ID))
	require.Equal(t, int64(4), f.onHand(t, b.ID))

	rows, err := f.inv.ListMovements(ctx, inventory.MovementFilter{ItemID: a.ID, Type: inventory.MovementShipment})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(-2), rows[0].QuantityChange)
	require.Equal(t, sale.ID, rows[0].SaleID)
	require.Equal(t, sale.Number, rows[0].ReferenceNumber)
	require.Equal(t, "POS sale "+sale.Number, rows[0].Notes)

	require.Len(t, f.events.events, 1)
	require.Len(t, f.events.events[0].Lines, 2)
	require.Empty(t, f.payments.Payments())

	_, err = f.svc.Finalize(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidState)
	require.True(t, errors.Is(err, inventory.ErrInvalidState))
	_, err = f.svc.AddLine(ctx, AddLineInput{SaleID: sale.ID, Ref: inventory.ByID(a.ID), Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestFinalizeIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "10", 10)
	b := f.stockedItem(t, "B", "10", 1)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 2)
	f.add(t, sale.ID, inventory.ByID(b.ID), 5)

	_, _, err := f.svc.FinalizeWithPayment(ctx, FinalizeInput{
		SaleID: sale.ID, ActorID: 9, Payment: &PaymentInput{MethodCode: "cash", CashRegisterID: f.register.ID},
	})
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, b.ID, stockErr.ItemID)
	require.True(t, IsRetryable(err))

	require.Equal(t, int64(10), f.onHand(t, a.ID))
	require.Equal(t, int64(1), f.onHand(t, b.ID))
	rows, err := f.inv.ListMovements(ctx, inventory.MovementFilter{ShopID: f.shop.ID, Type: inventory.MovementShipment})
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Empty(t, f.payments.Payments())
	reg, _ := f.payments.Register(f.register.ID)
	require.True(t, reg.CashBalance.IsZero())

	got, err := f.svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, got.Status)
	require.Empty(t, f.events.events)
}

func TestFinalizeWithCashPaymentCreditsRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "100", 5)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 2)
	_, err := f.svc.SetDiscount(ctx, sale.ID, dec("20"))
	require.NoError(t, err)

	done, payment, err := f.svc.FinalizeWithPayment(ctx, FinalizeInput{
		SaleID: sale.ID, ActorID: 9, Payment: &PaymentInput{MethodCode: "cash", CashRegisterID: f.register.ID},
	})
	require.NoError(t, err)
	require.Equal(t, payment.ID, done.PaymentID)
	require.Equal(t, "180.00", payment.Amount.StringFixed(2))
	require.Equal(t, sale.ID, payment.SaleID)
	require.Equal(t, "Payment for sale "+sale.Number, payment.Description)
	reg, _ := f.payments.Register(f.register.ID)
	require.Equal(t, "180.00", reg.CashBalance.StringFixed(2))
	require.Equal(t, int64(3), f.onHand(t, a.ID))
}

func TestRemovingLineBelowDiscountIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "100", 5)
	b := f.stockedItem(t, "B", "200", 5)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 1)
	f.add(t, sale.ID, inventory.ByID(b.ID), 1)
	_, err := f.svc.SetDiscount(ctx, sale.ID, dec("150"))
	require.NoError(t, err)

	_, err = f.svc.RemoveLine(ctx, sale.ID, b.ID)
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.UpdateLineQuantity(ctx, sale.ID, b.ID, 0)
	require.Error(t, err)

	got, err := f.svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	require.Equal(t, "150.00", got.TotalAmount.StringFixed(2))

	_, err = f.svc.SetDiscount(ctx, sale.ID, dec("50"))
	require.NoError(t, err)
	got, err = f.svc.RemoveLine(ctx, sale.ID, b.ID)
	require.NoError(t, err)
	require.Equal(t, "50.00", got.TotalAmount.StringFixed(2))
}

func TestFullyDiscountedSaleCompletesWithoutPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "100", 5)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 2)
	_, err := f.svc.SetDiscount(ctx, sale.ID, dec("200"))
	require.NoError(t, err)

	done, payment, err := f.svc.FinalizeWithPayment(ctx, FinalizeInput{
		SaleID: sale.ID, ActorID: 9, Payment: &PaymentInput{MethodCode: "cash", CashRegisterID: f.register.ID},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.True(t, done.TotalAmount.IsZero())
	require.Zero(t, payment.ID)
	require.Zero(t, done.PaymentID)
	reg, _ := f.payments.Register(f.register.ID)
	require.Equal(t, "0.00", reg.CashBalance.StringFixed(2))
	require.Equal(t, int64(3), f.onHand(t, a.ID))
}

func TestFinalizeWithPaymentRequiresMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "100", 5)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 1)

	_, _, err := f.svc.FinalizeWithPayment(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = f.svc.FinalizeWithPayment(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9, Payment: &PaymentInput{MethodCode: "barter"}})
	require.ErrorIs(t, err, finance.ErrMethodNotFound)
	require.Equal(t, int64(5), f.onHand(t, a.ID))
}

func TestStartSaleRequiresEnabledActiveShop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.dir.SaveSettings(ctx, shops.Settings{ShopID: f.shop.ID, POSBarcodeEnabled: false}))
	_, err := f.svc.StartSale(ctx, StartSaleInput{ShopID: f.shop.ID, CashierID: 9})
	require.ErrorIs(t, err, ErrPOSDisabled)
	require.ErrorIs(t, err, inventory.ErrInvalidState)

	require.NoError(t, f.dir.SaveSettings(ctx, shops.Settings{ShopID: f.shop.ID, POSBarcodeEnabled: true}))
	f.shopRepo.SetActive(f.shop.ID, false)
	_, err = f.svc.StartSale(ctx, StartSaleInput{ShopID: f.shop.ID, CashierID: 9})
	require.ErrorIs(t, err, shops.ErrInactive)

	_, err = f.svc.StartSale(ctx, StartSaleInput{ShopID: f.shop.ID})
	require.ErrorIs(t, err, ErrValidation)
}

func TestFinalizeIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "10", 1)
	b := f.stockedItem(t, "B", "10", 0)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 1)
	f.add(t, sale.ID, inventory.ByID(b.ID), 1)
	key := uuid.NewString()

	_, err := f.svc.Finalize(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9, IdempotencyKey: key})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	_, err = f.svc.RemoveLine(ctx, sale.ID, b.ID)
	require.NoError(t, err)
	_, err = f.svc.Finalize(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9, IdempotencyKey: key})
	require.NoError(t, err)

	_, err = f.svc.Finalize(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9, IdempotencyKey: key})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(0), f.onHand(t, a.ID))
}

func TestCancelLeavesStockUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "10", 3)
	sale := f.start(t)
	f.add(t, sale.ID, inventory.ByID(a.ID), 2)

	cancelled, err := f.svc.CancelSale(ctx, sale.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	require.Equal(t, int64(3), f.onHand(t, a.ID))

	_, err = f.svc.Finalize(ctx, FinalizeInput{SaleID: sale.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = f.svc.CancelSale(ctx, sale.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestFinalizeRejectsEmptySale(t *testing.T) {
	f := newFixture(t)
	sale := f.start(t)
	_, err := f.svc.Finalize(context.Background(), FinalizeInput{SaleID: sale.ID, ActorID: 9})
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.Finalize(context.Background(), FinalizeInput{SaleID: 999, ActorID: 9})
	require.ErrorIs(t, err, ErrSaleNotFound)
}

func TestConcurrentFinalizeNeverOversells(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stockedItem(t, "A", "10", 8)
	first := f.start(t)
	second := f.start(t)
	f.add(t, first.ID, inventory.ByID(a.ID), 5)
	f.add(t, second.ID, inventory.ByID(a.ID), 5)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Finalize(ctx, FinalizeInput{SaleID: id, ActorID: 9})
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, inventory.ErrInsufficientStock)
			failures++
		}
	}
	require.Equal(t, 1, failures)
	require.Equal(t, int64(3), f.onHand(t, a.ID))
}

func TestListSales(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.start(t)
	second := f.start(t)
	_, err := f.svc.CancelSale(ctx, second.ID, 9)
	require.NoError(t, err)

	all, err := f.svc.ListSales(ctx, SaleFilter{ShopID: f.shop.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	cancelled, err := f.svc.ListSales(ctx, SaleFilter{ShopID: f.shop.ID, Status: StatusCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	require.Equal(t, second.ID, cancelled[0].ID)

	_, err = f.svc.ListSales(ctx, SaleFilter{})
	require.ErrorIs(t, err, ErrValidation)
}
