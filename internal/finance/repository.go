package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/platform/db"
)

// Repository persists finance data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// NewTxRepository binds finance writes to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes fn in a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const methodColumns = `id, code, name, is_cash, fee_percent, fee_fixed, is_active`

func scanMethod(row pgx.Row) (PaymentMethod, error) {
	var m PaymentMethod
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.IsCash, &m.FeePercent, &m.FeeFixed, &m.IsActive)
	return m, err
}

func (t *txRepo) GetMethodByCode(ctx context.Context, code string) (PaymentMethod, error) {
	m, err := scanMethod(t.tx.QueryRow(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return PaymentMethod{}, fmt.Errorf("%w: %s", ErrMethodNotFound, code)
	}
	return m, err
}

func (t *txRepo) NextPaymentNumber(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `SELECT nextval('payment_number_seq')`).Scan(&seq)
	return seq, err
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO payments (payment_number, shop_id, payment_type, status, amount, fee_amount,
net_amount, method_id, cash_register_id, sale_id, description, reference_number, created_by, payment_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,0),NULLIF($10,0),$11,$12,NULLIF($13,0),$14)
RETURNING id`,
		p.Number, p.ShopID, p.Type, p.Status, p.Amount, p.FeeAmount, p.NetAmount, p.MethodID,
		p.CashRegisterID, p.SaleID, p.Description, p.ReferenceNumber, p.CreatedBy, p.PaymentDate).Scan(&p.ID)
	if err != nil {
		return Payment{}, fmt.Errorf("finance: insert payment: %w", err)
	}
	return p, nil
}

func (t *txRepo) GetRegisterForUpdate(ctx context.Context, id int64) (CashRegister, error) {
	var reg CashRegister
	err := t.tx.QueryRow(ctx, `SELECT id, shop_id, name, cash_balance, is_active FROM cash_registers WHERE id = $1 FOR UPDATE`, id).
		Scan(&reg.ID, &reg.ShopID, &reg.Name, &reg.CashBalance, &reg.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return CashRegister{}, fmt.Errorf("%w: %d", ErrRegisterNotFound, id)
	}
	return reg, err
}

func (t *txRepo) UpdateRegisterBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE cash_registers SET cash_balance = $2 WHERE id = $1`, id, balance)
	return err
}

// ListMethods lists payment methods by code.
func (r *Repository) ListMethods(ctx context.Context) ([]PaymentMethod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+methodColumns+` FROM payment_methods ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentMethod
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRegisters lists the registers of a shop.
func (r *Repository) ListRegisters(ctx context.Context, shopID int64) ([]CashRegister, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, shop_id, name, cash_balance, is_active FROM cash_registers
WHERE shop_id = $1 ORDER BY id`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CashRegister
	for rows.Next() {
		var reg CashRegister
		if err := rows.Scan(&reg.ID, &reg.ShopID, &reg.Name, &reg.CashBalance, &reg.IsActive); err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

// GetPayment loads one payment with its method code.
func (r *Repository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	var p Payment
	err := r.pool.QueryRow(ctx, `SELECT p.id, p.payment_number, p.shop_id, p.payment_type, p.status, p.amount,
p.fee_amount, p.net_amount, p.method_id, m.code, COALESCE(p.cash_register_id, 0), COALESCE(p.sale_id, 0),
p.description, p.reference_number, COALESCE(p.created_by, 0), p.payment_date
FROM payments p JOIN payment_methods m ON m.id = p.method_id WHERE p.id = $1`, id).
		Scan(&p.ID, &p.Number, &p.ShopID, &p.Type, &p.Status, &p.Amount, &p.FeeAmount, &p.NetAmount,
			&p.MethodID, &p.MethodCode, &p.CashRegisterID, &p.SaleID, &p.Description, &p.ReferenceNumber,
			&p.CreatedBy, &p.PaymentDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}
