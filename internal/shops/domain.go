package shops

import (
	"errors"
	"time"
)

// Shop is a store or branch that owns stock, sales and purchase orders.
type Shop struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings holds per-shop feature switches.
type Settings struct {
	ShopID            int64  `json:"shop_id"`
	POSBarcodeEnabled bool   `json:"pos_barcode_enabled"`
	OrderNumberPrefix string `json:"order_number_prefix"`
}

// Sequence names used for document numbering.
const (
	SequenceSale          = "SAL"
	SequencePurchaseOrder = "PO"
)

var (
	// ErrNotFound indicates the shop does not exist.
	ErrNotFound = errors.New("shops: not found")
	// ErrInactive indicates the shop is deactivated.
	ErrInactive = errors.New("shops: shop is inactive")
	// ErrValidation indicates invalid shop data.
	ErrValidation = errors.New("shops: invalid input")
	// ErrDuplicate indicates the shop code is taken.
	ErrDuplicate = errors.New("shops: code already exists")
)
