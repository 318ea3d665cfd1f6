package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/platform/db"
)

// TxRepository exposes transactional operations used by the engine and
// workflows.
type TxRepository interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	EnsureBalance(ctx context.Context, shopID, itemID int64) (Balance, error)
	GetBalanceForUpdate(ctx context.Context, balanceID int64) (Balance, error)
	UpdateBalance(ctx context.Context, balance Balance) error
	InsertMovement(ctx context.Context, mv Movement) (Movement, error)
	InsertCostHistory(ctx context.Context, entry CostHistory) error
	InsertItem(ctx context.Context, item Item) (Item, error)
	UpdateItemPrices(ctx context.Context, itemID int64, purchase, selling decimal.Decimal) error
	InsertPriceHistory(ctx context.Context, entry PriceHistory) error
	InsertBarcode(ctx context.Context, barcode ItemBarcode) (ItemBarcode, error)
	DeleteBarcode(ctx context.Context, itemID int64, code string) error
	UpsertSupplierItem(ctx context.Context, si SupplierItem) error
}

// BarcodeMatch pairs a barcode association with its item.
type BarcodeMatch struct {
	Barcode ItemBarcode
	Item    Item
}

// Repository persists inventory data in PostgreSQL.
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

// NewTxRepository wraps an open transaction so other modules can run ledger
// writes inside their own transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// WithTx executes the callback inside a read-committed transaction; every
// ledger write locks its balance row with FOR UPDATE.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const itemColumns = `id, sku, name, item_type, category, purchase_price, selling_price, unit,
	track_quantity, allow_negative_stock, is_active, COALESCE(primary_supplier_id, 0), created_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.SKU, &it.Name, &it.Type, &it.Category, &it.PurchasePrice, &it.SellingPrice, &it.Unit,
		&it.TrackQuantity, &it.AllowNegativeStock, &it.IsActive, &it.PrimarySupplierID, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

const balanceColumns = `id, shop_id, item_id, quantity, reserved_quantity, available_quantity,
	min_quantity, max_quantity, reorder_point, location, shelf, last_movement_at, last_inventory_at`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.ID, &b.ShopID, &b.ItemID, &b.Quantity, &b.ReservedQuantity, &b.AvailableQuantity,
		&b.MinQuantity, &b.MaxQuantity, &b.ReorderPoint, &b.Location, &b.Shelf, &b.LastMovementAt, &b.LastInventoryAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrBalanceNotFound
	}
	return b, err
}

const movementColumns = `m.id, m.balance_id, b.shop_id, b.item_id, m.movement_type, m.quantity_before, m.quantity_change,
	m.quantity_after, m.reserved_change, COALESCE(m.purchase_order_id, 0), COALESCE(m.repair_order_id, 0),
	COALESCE(m.sale_id, 0), m.cost_per_unit, m.reference_number, m.notes, COALESCE(m.created_by, 0), m.created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.BalanceID, &m.ShopID, &m.ItemID, &m.Type, &m.QuantityBefore, &m.QuantityChange,
		&m.QuantityAfter, &m.ReservedChange, &m.PurchaseOrderID, &m.RepairOrderID,
		&m.SaleID, &m.CostPerUnit, &m.ReferenceNumber, &m.Notes, &m.CreatedBy, &m.CreatedAt)
	return m, err
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1`, id))
}

func (r *Repository) GetItemBySKU(ctx context.Context, sku string) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE sku=$1`, sku))
}

func (r *Repository) FindBarcodeMatches(ctx context.Context, code string) ([]BarcodeMatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.item_id, b.barcode, COALESCE(b.supplier_id, 0), b.created_at,
		i.id, i.sku, i.name, i.item_type, i.category, i.purchase_price, i.selling_price, i.unit,
		i.track_quantity, i.allow_negative_stock, i.is_active, COALESCE(i.primary_supplier_id, 0), i.created_at
		FROM inventory_item_barcodes b JOIN inventory_items i ON i.id = b.item_id
		WHERE b.barcode=$1`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BarcodeMatch
	for rows.Next() {
		var m BarcodeMatch
		it := &m.Item
		if err := rows.Scan(&m.Barcode.ID, &m.Barcode.ItemID, &m.Barcode.Barcode, &m.Barcode.SupplierID, &m.Barcode.CreatedAt,
			&it.ID, &it.SKU, &it.Name, &it.Type, &it.Category, &it.PurchasePrice, &it.SellingPrice, &it.Unit,
			&it.TrackQuantity, &it.AllowNegativeStock, &it.IsActive, &it.PrimarySupplierID, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) ListBarcodes(ctx context.Context, itemID int64) ([]ItemBarcode, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, barcode, COALESCE(supplier_id, 0), created_at
		FROM inventory_item_barcodes WHERE item_id=$1 ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ItemBarcode
	for rows.Next() {
		var b ItemBarcode
		if err := rows.Scan(&b.ID, &b.ItemID, &b.Barcode, &b.SupplierID, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) ListPriceHistory(ctx context.Context, itemID int64) ([]PriceHistory, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, price_type, value, notes, COALESCE(changed_by, 0), changed_at
		FROM inventory_price_history WHERE item_id=$1 ORDER BY id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PriceHistory
	for rows.Next() {
		var p PriceHistory
		if err := rows.Scan(&p.ID, &p.ItemID, &p.PriceType, &p.Value, &p.Notes, &p.ChangedBy, &p.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) GetBalance(ctx context.Context, id int64) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances WHERE id=$1`, id))
}

func (r *Repository) FindBalance(ctx context.Context, shopID, itemID int64) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances WHERE shop_id=$1 AND item_id=$2`, shopID, itemID))
}

func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]BalanceView, error) {
	var (
		where []string
		args  []any
	)
	if filter.ShopID != 0 {
		args = append(args, filter.ShopID)
		where = append(where, fmt.Sprintf("b.shop_id=$%d", len(args)))
	}
	if filter.LowStockOnly {
		where = append(where, "b.available_quantity <= b.min_quantity")
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(i.sku ILIKE $%d OR i.name ILIKE $%d)", len(args), len(args)))
	}
	query := `SELECT b.id, b.shop_id, b.item_id, b.quantity, b.reserved_quantity, b.available_quantity,
		b.min_quantity, b.max_quantity, b.reorder_point, b.location, b.shelf, b.last_movement_at, b.last_inventory_at,
		i.sku, i.name FROM stock_balances b JOIN inventory_items i ON i.id = b.item_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY b.shop_id, i.sku LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceView
	for rows.Next() {
		var v BalanceView
		b := &v.Balance
		if err := rows.Scan(&b.ID, &b.ShopID, &b.ItemID, &b.Quantity, &b.ReservedQuantity, &b.AvailableQuantity,
			&b.MinQuantity, &b.MaxQuantity, &b.ReorderPoint, &b.Location, &b.Shelf, &b.LastMovementAt, &b.LastInventoryAt,
			&v.SKU, &v.Name); err != nil {
			return nil, err
		}
		v.LowStock = b.IsLowStock()
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.BalanceID != 0 {
		add("m.balance_id=$%d", filter.BalanceID)
	}
	if filter.ShopID != 0 {
		add("b.shop_id=$%d", filter.ShopID)
	}
	if filter.ItemID != 0 {
		add("b.item_id=$%d", filter.ItemID)
	}
	if filter.Type != "" {
		add("m.movement_type=$%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		add("m.created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("m.created_at <= $%d", filter.To)
	}
	query := `SELECT ` + movementColumns + ` FROM stock_movements m JOIN stock_balances b ON b.id = m.balance_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY m.id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) ReorderCandidates(ctx context.Context, shopID int64) ([]ReorderCandidate, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.shop_id, b.item_id, b.quantity, b.reserved_quantity, b.available_quantity,
		b.min_quantity, b.max_quantity, b.reorder_point, i.sku, i.name, i.purchase_price,
		COALESCE(s.supplier_id, 0), s.supplier_price,
		CASE WHEN s.is_preferred THEN GREATEST(s.min_order_qty, 1) ELSE 1 END
		FROM stock_balances b
		JOIN inventory_items i ON i.id = b.item_id AND i.is_active AND i.track_quantity
		LEFT JOIN LATERAL (
			SELECT supplier_id, supplier_price, min_order_qty, is_preferred FROM inventory_supplier_items si
			WHERE si.item_id = b.item_id
			ORDER BY si.is_preferred DESC, (si.supplier_id = i.primary_supplier_id) DESC, si.supplier_id
			LIMIT 1
		) s ON TRUE
		WHERE b.shop_id=$1 AND b.available_quantity <= b.reorder_point`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReorderCandidate
	for rows.Next() {
		var c ReorderCandidate
		b := &c.Balance
		if err := rows.Scan(&b.ID, &b.ShopID, &b.ItemID, &b.Quantity, &b.ReservedQuantity, &b.AvailableQuantity,
			&b.MinQuantity, &b.MaxQuantity, &b.ReorderPoint, &c.SKU, &c.Name, &c.PurchasePrice,
			&c.SupplierID, &c.SupplierPrice, &c.MinOrderQty); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) MovementSummary(ctx context.Context, filter TurnoverFilter) ([]TurnoverRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.sku, i.name,
		COALESCE(SUM(m.quantity_change) FILTER (WHERE m.movement_type = 'receipt'), 0),
		COALESCE(-SUM(m.quantity_change) FILTER (WHERE m.movement_type = 'shipment'), 0),
		COUNT(m.id)
		FROM stock_movements m
		JOIN stock_balances b ON b.id = m.balance_id
		JOIN inventory_items i ON i.id = b.item_id
		WHERE ($1 = 0 OR b.shop_id = $1) AND m.created_at >= $2
		GROUP BY i.id, i.sku, i.name
		ORDER BY COUNT(m.id) DESC, i.id`, filter.ShopID, filter.Since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TurnoverRow
	for rows.Next() {
		var t TurnoverRow
		if err := rows.Scan(&t.ItemID, &t.SKU, &t.Name, &t.Received, &t.Shipped, &t.MovementsCount); err != nil {
			return nil, err
		}
		t.Net = t.Received - t.Shipped
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) InsertScanEvent(ctx context.Context, evt ScanEvent) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO barcode_scan_events (barcode, item_id, shop_id, user_id, context, quantity, notes)
		VALUES ($1, NULLIF($2, 0), NULLIF($3, 0), NULLIF($4, 0), $5, $6, $7)`,
		evt.Barcode, evt.ItemID, evt.ShopID, evt.UserID, string(evt.Context), evt.Quantity, evt.Notes)
	return err
}

func (r *txRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id=$1`, id))
}

func (r *txRepo) EnsureBalance(ctx context.Context, shopID, itemID int64) (Balance, error) {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (shop_id, item_id, min_quantity, max_quantity, reorder_point)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (shop_id, item_id) DO NOTHING`,
		shopID, itemID, DefaultMinQuantity, DefaultMaxQuantity, DefaultReorderPoint)
	if err != nil {
		return Balance{}, err
	}
	return scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances WHERE shop_id=$1 AND item_id=$2`, shopID, itemID))
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, balanceID int64) (Balance, error) {
	return scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances WHERE id=$1 FOR UPDATE`, balanceID))
}

func (r *txRepo) UpdateBalance(ctx context.Context, b Balance) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_balances SET quantity=$2, reserved_quantity=$3, available_quantity=$4,
		min_quantity=$5, max_quantity=$6, reorder_point=$7, location=$8, shelf=$9, last_movement_at=$10, last_inventory_at=$11
		WHERE id=$1`,
		b.ID, b.Quantity, b.ReservedQuantity, b.AvailableQuantity, b.MinQuantity, b.MaxQuantity, b.ReorderPoint,
		b.Location, b.Shelf, b.LastMovementAt, b.LastInventoryAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (balance_id, movement_type, quantity_before, quantity_change,
		quantity_after, reserved_change, purchase_order_id, repair_order_id, sale_id, cost_per_unit, reference_number,
		notes, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), NULLIF($8, 0), NULLIF($9, 0), $10, $11, $12, NULLIF($13, 0), $14)
		RETURNING id`,
		m.BalanceID, string(m.Type), m.QuantityBefore, m.QuantityChange, m.QuantityAfter, m.ReservedChange,
		m.PurchaseOrderID, m.RepairOrderID, m.SaleID, m.CostPerUnit, m.ReferenceNumber, m.Notes, m.CreatedBy, m.CreatedAt).
		Scan(&m.ID)
	return m, err
}

func (r *txRepo) InsertCostHistory(ctx context.Context, c CostHistory) error {
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now().UTC()
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_cost_history (item_id, shop_id, source, source_id, cost, quantity, notes, received_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, $7, $8)`,
		c.ItemID, c.ShopID, string(c.Source), c.SourceID, c.Cost, c.Quantity, c.Notes, c.ReceivedAt)
	return err
}

func (r *txRepo) InsertItem(ctx context.Context, it Item) (Item, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_items (sku, name, item_type, category, purchase_price, selling_price,
		unit, track_quantity, allow_negative_stock, is_active, primary_supplier_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, 0)) RETURNING id, created_at`,
		it.SKU, it.Name, string(it.Type), it.Category, it.PurchasePrice, it.SellingPrice,
		it.Unit, it.TrackQuantity, it.AllowNegativeStock, it.IsActive, it.PrimarySupplierID).Scan(&it.ID, &it.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Item{}, fmt.Errorf("%w: sku %s", ErrDuplicate, it.SKU)
		}
		return Item{}, err
	}
	return it, nil
}

func (r *txRepo) UpdateItemPrices(ctx context.Context, itemID int64, purchase, selling decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_items SET purchase_price=$2, selling_price=$3 WHERE id=$1`, itemID, purchase, selling)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) InsertPriceHistory(ctx context.Context, p PriceHistory) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_price_history (item_id, price_type, value, notes, changed_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, 0))`, p.ItemID, string(p.PriceType), p.Value, p.Notes, p.ChangedBy)
	return err
}

func (r *txRepo) InsertBarcode(ctx context.Context, b ItemBarcode) (ItemBarcode, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_item_barcodes (item_id, barcode, supplier_id)
		VALUES ($1, $2, NULLIF($3, 0)) RETURNING id, created_at`, b.ItemID, b.Barcode, b.SupplierID).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ItemBarcode{}, fmt.Errorf("%w: barcode %s already on item %d", ErrDuplicate, b.Barcode, b.ItemID)
		}
		return ItemBarcode{}, err
	}
	return b, nil
}

func (r *txRepo) DeleteBarcode(ctx context.Context, itemID int64, code string) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM inventory_item_barcodes WHERE item_id=$1 AND barcode=$2`, itemID, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) UpsertSupplierItem(ctx context.Context, si SupplierItem) error {
	if si.IsPreferred {
		if _, err := r.tx.Exec(ctx, `UPDATE inventory_supplier_items SET is_preferred=FALSE WHERE item_id=$1 AND supplier_id<>$2`,
			si.ItemID, si.SupplierID); err != nil {
			return err
		}
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_supplier_items (supplier_id, item_id, supplier_price, min_order_qty, delivery_days, is_preferred)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (supplier_id, item_id) DO UPDATE SET supplier_price=EXCLUDED.supplier_price,
			min_order_qty=EXCLUDED.min_order_qty, delivery_days=EXCLUDED.delivery_days, is_preferred=EXCLUDED.is_preferred`,
		si.SupplierID, si.ItemID, si.SupplierPrice, si.MinOrderQty, si.DeliveryDays, si.IsPreferred)
	return err
}
