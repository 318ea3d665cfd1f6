package finance

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMethodFeeRoundsToCents(t *testing.T) {
	card := PaymentMethod{FeePercent: dec("2.5"), FeeFixed: dec("0.30")}
	fee, net := card.Fee(dec("199.99"))
	require.Equal(t, "5.30", fee.StringFixed(2))
	require.Equal(t, "194.69", net.StringFixed(2))

	cash := PaymentMethod{}
	fee, net = cash.Fee(dec("200"))
	require.True(t, fee.IsZero())
	require.True(t, net.Equal(dec("200")))
}

func TestRecordPaymentCreditsCashRegister(t *testing.T) {
	store := NewMemoryStore()
	store.AddMethod(PaymentMethod{Code: "cash", Name: "Cash", IsCash: true, IsActive: true})
	reg := store.AddRegister(CashRegister{ShopID: 1, Name: "Till 1", CashBalance: dec("100"), IsActive: true})
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	p, err := svc.RecordPayment(ctx, PaymentInput{ShopID: 1, Amount: dec("250"), MethodCode: "cash", CashRegisterID: reg.ID, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, "PAY-00000001", p.Number)
	require.Equal(t, PaymentTypeIncome, p.Type)
	require.Equal(t, StatusCompleted, p.Status)
	require.True(t, p.NetAmount.Equal(dec("250")))

	got, ok := store.Register(reg.ID)
	require.True(t, ok)
	require.Equal(t, "350.00", got.CashBalance.StringFixed(2))

	p2, err := svc.RecordPayment(ctx, PaymentInput{ShopID: 1, Amount: dec("1"), MethodCode: "cash"})
	require.NoError(t, err)
	require.Equal(t, "PAY-00000002", p2.Number)
}

func TestRecordPaymentRollsBackOnRegisterError(t *testing.T) {
	store := NewMemoryStore()
	store.AddMethod(PaymentMethod{Code: "cash", IsCash: true, IsActive: true})
	other := store.AddRegister(CashRegister{ShopID: 2, CashBalance: dec("10"), IsActive: true})
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, PaymentInput{ShopID: 1, Amount: dec("5"), MethodCode: "cash", CashRegisterID: other.ID})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, store.Payments())
	got, _ := store.Register(other.ID)
	require.True(t, got.CashBalance.Equal(dec("10")))

	_, err = svc.RecordPayment(ctx, PaymentInput{ShopID: 1, Amount: dec("5"), MethodCode: "cash", CashRegisterID: 999})
	require.ErrorIs(t, err, ErrRegisterNotFound)
	require.Empty(t, store.Payments())
}

func TestRecordPaymentValidation(t *testing.T) {
	store := NewMemoryStore()
	store.AddMethod(PaymentMethod{Code: "card", IsActive: false})
	svc := NewService(store, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, PaymentInput{ShopID: 1, Amount: dec("0"), MethodCode: "card"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.RecordPayment(ctx, PaymentInput{ShopID: 1, Amount: dec("5"), MethodCode: "card"})
	require.ErrorIs(t, err, ErrMethodNotFound)
	_, err = svc.RecordPayment(ctx, PaymentInput{ShopID: 1, Amount: dec("5"), MethodCode: "crypto"})
	require.ErrorIs(t, err, ErrMethodNotFound)
}

func TestCardPaymentSkipsRegisterCredit(t *testing.T) {
	store := NewMemoryStore()
	store.AddMethod(PaymentMethod{Code: "card", FeePercent: dec("2"), IsActive: true})
	reg := store.AddRegister(CashRegister{ShopID: 1, CashBalance: dec("0"), IsActive: true})
	svc := NewService(store, nil, nil)

	p, err := svc.RecordPayment(context.Background(), PaymentInput{ShopID: 1, Amount: dec("100"), MethodCode: "card", CashRegisterID: reg.ID})
	require.NoError(t, err)
	require.Equal(t, "2.00", p.FeeAmount.StringFixed(2))
	got, _ := store.Register(reg.ID)
	require.True(t, got.CashBalance.IsZero())
}
