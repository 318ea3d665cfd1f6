package finance

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod describes how a customer pays and what the processor keeps.
type PaymentMethod struct {
	ID         int64           `json:"id"`
	Code       string          `json:"code"`
	Name       string          `json:"name"`
	IsCash     bool            `json:"is_cash"`
	FeePercent decimal.Decimal `json:"fee_percent"`
	FeeFixed   decimal.Decimal `json:"fee_fixed"`
	IsActive   bool            `json:"is_active"`
}

// Fee returns the processor fee and the net amount for a payment.
func (m PaymentMethod) Fee(amount decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(m.FeePercent).Div(decimal.NewFromInt(100)).Add(m.FeeFixed).Round(2)
	return fee, amount.Sub(fee)
}

// CashRegister holds the cash of one shop till.
type CashRegister struct {
	ID          int64           `json:"id"`
	ShopID      int64           `json:"shop_id"`
	Name        string          `json:"name"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	IsActive    bool            `json:"is_active"`
}

// Payment types and statuses.
const (
	PaymentTypeIncome = "income"
	StatusCompleted   = "completed"
)

// Payment is a recorded money movement.
type Payment struct {
	ID              int64           `json:"id"`
	Number          string          `json:"payment_number"`
	ShopID          int64           `json:"shop_id"`
	Type            string          `json:"payment_type"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	MethodID        int64           `json:"method_id"`
	MethodCode      string          `json:"method_code"`
	CashRegisterID  int64           `json:"cash_register_id,omitempty"`
	SaleID          int64           `json:"sale_id,omitempty"`
	Description     string          `json:"description"`
	ReferenceNumber string          `json:"reference_number"`
	CreatedBy       int64           `json:"created_by,omitempty"`
	PaymentDate     time.Time       `json:"payment_date"`
}

var (
	// ErrMethodNotFound indicates an unknown or inactive payment method.
	ErrMethodNotFound = errors.New("finance: payment method not found")
	// ErrRegisterNotFound indicates an unknown or inactive cash register.
	ErrRegisterNotFound = errors.New("finance: cash register not found")
	// ErrPaymentNotFound indicates the payment does not exist.
	ErrPaymentNotFound = errors.New("finance: payment not found")
	// ErrValidation indicates invalid payment input.
	ErrValidation = errors.New("finance: invalid input")
)
