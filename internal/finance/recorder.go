package finance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TxRepository is the transactional surface the Recorder writes through.
// Callers pass one bound to their own transaction so a payment commits or
// rolls back together with the caller's writes.
type TxRepository interface {
	GetMethodByCode(ctx context.Context, code string) (PaymentMethod, error)
	NextPaymentNumber(ctx context.Context) (int64, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	GetRegisterForUpdate(ctx context.Context, id int64) (CashRegister, error)
	UpdateRegisterBalance(ctx context.Context, id int64, balance decimal.Decimal) error
}

// PaymentInput describes an income payment.
type PaymentInput struct {
	ShopID          int64
	Amount          decimal.Decimal
	MethodCode      string
	CashRegisterID  int64
	SaleID          int64
	Description     string
	ReferenceNumber string
	ActorID         int64
}

// Recorder writes payments and register credits inside a caller's
// transaction.
type Recorder struct {
	now func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: func() time.Time { return time.Now().UTC() }}
}

// FormatPaymentNumber renders a payment sequence value.
func FormatPaymentNumber(seq int64) string {
	return fmt.Sprintf("PAY-%08d", seq)
}

// RecordPayment inserts a completed income payment with the method fee.
func (r *Recorder) RecordPayment(ctx context.Context, tx TxRepository, in PaymentInput) (Payment, error) {
	if in.ShopID == 0 {
		return Payment{}, fmt.Errorf("%w: shop required", ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	code := strings.TrimSpace(in.MethodCode)
	if code == "" {
		return Payment{}, fmt.Errorf("%w: payment method required", ErrValidation)
	}
	method, err := tx.GetMethodByCode(ctx, code)
	if err != nil {
		return Payment{}, err
	}
	if !method.IsActive {
		return Payment{}, fmt.Errorf("%w: %s", ErrMethodNotFound, code)
	}
	seq, err := tx.NextPaymentNumber(ctx)
	if err != nil {
		return Payment{}, err
	}
	fee, net := method.Fee(in.Amount)
	return tx.InsertPayment(ctx, Payment{
		Number:          FormatPaymentNumber(seq),
		ShopID:          in.ShopID,
		Type:            PaymentTypeIncome,
		Status:          StatusCompleted,
		Amount:          in.Amount,
		FeeAmount:       fee,
		NetAmount:       net,
		MethodID:        method.ID,
		MethodCode:      method.Code,
		CashRegisterID:  in.CashRegisterID,
		SaleID:          in.SaleID,
		Description:     in.Description,
		ReferenceNumber: in.ReferenceNumber,
		CreatedBy:       in.ActorID,
		PaymentDate:     r.now(),
	})
}

// CreditCashRegister adds amount to the register balance under a row lock.
// The register must belong to shopID.
func (r *Recorder) CreditCashRegister(ctx context.Context, tx TxRepository, shopID, registerID int64, amount decimal.Decimal) (CashRegister, error) {
	if !amount.IsPositive() {
		return CashRegister{}, fmt.Errorf("%w: credit must be positive", ErrValidation)
	}
	reg, err := tx.GetRegisterForUpdate(ctx, registerID)
	if err != nil {
		return CashRegister{}, err
	}
	if !reg.IsActive {
		return CashRegister{}, fmt.Errorf("%w: register %d inactive", ErrRegisterNotFound, registerID)
	}
	if reg.ShopID != shopID {
		return CashRegister{}, fmt.Errorf("%w: register %d belongs to shop %d", ErrValidation, registerID, reg.ShopID)
	}
	reg.CashBalance = reg.CashBalance.Add(amount)
	if err := tx.UpdateRegisterBalance(ctx, reg.ID, reg.CashBalance); err != nil {
		return CashRegister{}, err
	}
	return reg, nil
}
