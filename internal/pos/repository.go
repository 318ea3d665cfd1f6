package pos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/platform/db"
)

// Repository persists retail sales in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx       pgx.Tx
	ledger   inventory.TxRepository
	payments finance.TxRepository
}

// WithTx runs fn in one read-committed transaction shared by the sale, the
// stock ledger and the payment writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{
			tx:       tx,
			ledger:   inventory.NewTxRepository(tx),
			payments: finance.NewTxRepository(tx),
		})
	})
}

func (t *txRepo) Ledger() inventory.TxRepository  { return t.ledger }
func (t *txRepo) Payments() finance.TxRepository { return t.payments }

const saleColumns = `id, sale_number, shop_id, cashier_id, COALESCE(customer_id, 0), status, subtotal,
	discount_amount, total_amount, notes, COALESCE(payment_id, 0), created_at, completed_at, cancelled_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.Number, &s.ShopID, &s.CashierID, &s.CustomerID, &s.Status, &s.Subtotal,
		&s.DiscountAmount, &s.TotalAmount, &s.Notes, &s.PaymentID, &s.CreatedAt, &s.CompletedAt, &s.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrSaleNotFound
	}
	return s, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, saleID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT l.id, l.sale_id, l.item_id, i.sku, i.name, l.quantity, l.unit_price, l.total_price
FROM retail_sale_items l
JOIN inventory_items i ON i.id = l.item_id
WHERE l.sale_id = $1
ORDER BY l.id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ItemID, &l.SKU, &l.Name, &l.Quantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) GetSaleForUpdate(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM retail_sales WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = loadLines(ctx, t.tx, id)
	return sale, err
}

func (t *txRepo) InsertSale(ctx context.Context, s Sale) (Sale, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO retail_sales (sale_number, shop_id, cashier_id, customer_id, status,
subtotal, discount_amount, total_amount, notes, created_at)
VALUES ($1,$2,$3,NULLIF($4,0),$5,$6,$7,$8,$9,$10)
RETURNING id`,
		s.Number, s.ShopID, s.CashierID, s.CustomerID, s.Status, s.Subtotal, s.DiscountAmount, s.TotalAmount,
		s.Notes, s.CreatedAt).Scan(&s.ID)
	if err != nil {
		return Sale{}, fmt.Errorf("pos: insert sale: %w", err)
	}
	s.Lines = []Line{}
	return s, nil
}

func (t *txRepo) UpdateSale(ctx context.Context, s Sale) error {
	_, err := t.tx.Exec(ctx, `UPDATE retail_sales SET status = $2, subtotal = $3, discount_amount = $4,
total_amount = $5, notes = $6, payment_id = NULLIF($7,0), completed_at = $8, cancelled_at = $9
WHERE id = $1`,
		s.ID, s.Status, s.Subtotal, s.DiscountAmount, s.TotalAmount, s.Notes, s.PaymentID, s.CompletedAt, s.CancelledAt)
	return err
}

func (t *txRepo) UpsertLine(ctx context.Context, l Line) (Line, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO retail_sale_items (sale_id, item_id, quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (sale_id, item_id) DO UPDATE
SET quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price, total_price = EXCLUDED.total_price
RETURNING id`,
		l.SaleID, l.ItemID, l.Quantity, l.UnitPrice, l.TotalPrice).Scan(&l.ID)
	if err != nil {
		return Line{}, fmt.Errorf("pos: upsert line: %w", err)
	}
	return l, nil
}

func (t *txRepo) DeleteLine(ctx context.Context, saleID, itemID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM retail_sale_items WHERE sale_id = $1 AND item_id = $2`, saleID, itemID)
	return err
}

// GetSale loads a sale with its lines.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM retail_sales WHERE id = $1`, id))
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = loadLines(ctx, r.pool, id)
	return sale, err
}

// ListSales lists sale headers without lines.
func (r *Repository) ListSales(ctx context.Context, filter SaleFilter) ([]Sale, error) {
	clauses := []string{"shop_id = $1"}
	args := []any{filter.ShopID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM retail_sales WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		saleColumns, strings.Join(clauses, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
