package shops

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miazigoo/RepireCRM/internal/platform/db"
)

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (Shop, error) {
	var s Shop
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, address, is_active, created_at FROM shops WHERE id=$1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.IsActive, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Shop{}, ErrNotFound
	}
	return s, err
}

func (r *repository) ListActive(ctx context.Context) ([]Shop, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, address, is_active, created_at FROM shops WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Shop
	for rows.Next() {
		var s Shop
		if err := rows.Scan(&s.ID, &s.Code, &s.Name, &s.Address, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, shop Shop) (Shop, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO shops (code, name, address, is_active) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
			shop.Code, shop.Name, shop.Address, shop.IsActive).Scan(&shop.ID, &shop.CreatedAt)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO shop_settings (shop_id) VALUES ($1) ON CONFLICT DO NOTHING`, shop.ID)
		return err
	})
	if err != nil {
		return Shop{}, err
	}
	return shop, nil
}

func (r *repository) Settings(ctx context.Context, shopID int64) (Settings, error) {
	settings := Settings{ShopID: shopID}
	err := r.pool.QueryRow(ctx, `SELECT pos_barcode_enabled, order_number_prefix FROM shop_settings WHERE shop_id=$1`, shopID).
		Scan(&settings.POSBarcodeEnabled, &settings.OrderNumberPrefix)
	if errors.Is(err, pgx.ErrNoRows) {
		return settings, nil
	}
	return settings, err
}

func (r *repository) SaveSettings(ctx context.Context, settings Settings) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO shop_settings (shop_id, pos_barcode_enabled, order_number_prefix, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (shop_id) DO UPDATE SET pos_barcode_enabled=EXCLUDED.pos_barcode_enabled,
			order_number_prefix=EXCLUDED.order_number_prefix, updated_at=NOW()`,
		settings.ShopID, settings.POSBarcodeEnabled, settings.OrderNumberPrefix)
	return err
}

func (r *repository) NextValue(ctx context.Context, shopID int64, name string) (int64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `INSERT INTO shop_sequences (shop_id, name, value) VALUES ($1, $2, 1)
		ON CONFLICT (shop_id, name) DO UPDATE SET value = shop_sequences.value + 1
		RETURNING value`, shopID, name).Scan(&value)
	return value, err
}
