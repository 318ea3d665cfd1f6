package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates repository instance.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx     pgx.Tx
	ledger inventory.TxRepository
}

// WithTx runs fn in a read-committed transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: inventory.NewTxRepository(tx)})
	})
}

func (t *txRepo) Ledger() inventory.TxRepository { return t.ledger }

const orderColumns = `id, order_number, shop_id, supplier_id, status, subtotal, tax_amount, total_amount, notes,
	expected_delivery_date, actual_delivery_date, COALESCE(created_by, 0), COALESCE(approved_by, 0), created_at`

func scanOrder(row pgx.Row) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := row.Scan(&o.ID, &o.Number, &o.ShopID, &o.SupplierID, &o.Status, &o.Subtotal, &o.TaxAmount, &o.TotalAmount,
		&o.Notes, &o.ExpectedDeliveryDate, &o.ActualDeliveryDate, &o.CreatedBy, &o.ApprovedBy, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	return o, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, orderID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, purchase_order_id, item_id, ordered_quantity, received_quantity, unit_price, total_price
FROM purchase_order_items WHERE purchase_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.OrderedQuantity, &l.ReceivedQuantity, &l.UnitPrice, &l.TotalPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Lines, err = loadLines(ctx, t.tx, id)
	return order, err
}

func (t *txRepo) InsertOrder(ctx context.Context, o PurchaseOrder) (PurchaseOrder, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (order_number, shop_id, supplier_id, status, subtotal, tax_amount,
total_amount, notes, expected_delivery_date, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,0),$11)
RETURNING id`,
		o.Number, o.ShopID, o.SupplierID, o.Status, o.Subtotal, o.TaxAmount, o.TotalAmount, o.Notes,
		o.ExpectedDeliveryDate, o.CreatedBy, o.CreatedAt).Scan(&o.ID)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: insert order: %w", err)
	}
	return o, nil
}

func (t *txRepo) InsertLine(ctx context.Context, l Line) (Line, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (purchase_order_id, item_id, ordered_quantity,
received_quantity, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id`,
		l.OrderID, l.ItemID, l.OrderedQuantity, l.ReceivedQuantity, l.UnitPrice, l.TotalPrice).Scan(&l.ID)
	if err != nil {
		return Line{}, fmt.Errorf("procurement: insert line: %w", err)
	}
	return l, nil
}

func (t *txRepo) UpdateOrder(ctx context.Context, o PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $2, subtotal = $3, tax_amount = $4, total_amount = $5,
notes = $6, actual_delivery_date = $7, approved_by = NULLIF($8,0) WHERE id = $1`,
		o.ID, o.Status, o.Subtotal, o.TaxAmount, o.TotalAmount, o.Notes, o.ActualDeliveryDate, o.ApprovedBy)
	return err
}

func (t *txRepo) UpdateLineReceived(ctx context.Context, lineID, received int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_items SET received_quantity = $2 WHERE id = $1`, lineID, received)
	return err
}

// GetOrder loads an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	order.Lines, err = loadLines(ctx, r.pool, id)
	return order, err
}

// ListOrders lists order headers without lines.
func (r *Repository) ListOrders(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	clauses := []string{"shop_id = $1"}
	args := []any{filters.ShopID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filters.SupplierID != 0 {
		args = append(args, filters.SupplierID)
		clauses = append(clauses, fmt.Sprintf("supplier_id = $%d", len(args)))
	}
	args = append(args, filters.Limit, filters.Offset)
	query := fmt.Sprintf(`SELECT %s FROM purchase_orders WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, strings.Join(clauses, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PurchaseOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
