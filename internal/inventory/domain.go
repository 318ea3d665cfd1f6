package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemType classifies catalog items.
type ItemType string

const (
	ItemTypeComponent  ItemType = "component"
	ItemTypeAccessory  ItemType = "accessory"
	ItemTypeConsumable ItemType = "consumable"
	ItemTypeTool       ItemType = "tool"
	ItemTypeSoftware   ItemType = "software"
	ItemTypeService    ItemType = "service"
)

// Valid reports whether the type is known.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeComponent, ItemTypeAccessory, ItemTypeConsumable, ItemTypeTool, ItemTypeSoftware, ItemTypeService:
		return true
	}
	return false
}

// MovementType enumerates ledger movement kinds.
type MovementType string

const (
	// MovementReceipt adds stock from a supplier or ad-hoc delivery.
	MovementReceipt MovementType = "receipt"
	// MovementShipment removes stock for a sale or repair order.
	MovementShipment MovementType = "shipment"
	// MovementTransfer moves stock between shops.
	MovementTransfer MovementType = "transfer"
	// MovementAdjustment is a manual signed correction.
	MovementAdjustment MovementType = "adjustment"
	// MovementReservation holds stock without changing quantity.
	MovementReservation MovementType = "reservation"
	// MovementUnreservation releases a hold.
	MovementUnreservation MovementType = "unreservation"
	// MovementInventory records a physical count difference.
	MovementInventory MovementType = "inventory"
	// MovementWriteOff removes damaged or lost stock.
	MovementWriteOff MovementType = "write_off"
	// MovementReturn adds stock returned by a customer.
	MovementReturn MovementType = "return"
)

// Valid reports whether the type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceipt, MovementShipment, MovementTransfer, MovementAdjustment,
		MovementReservation, MovementUnreservation, MovementInventory, MovementWriteOff, MovementReturn:
		return true
	}
	return false
}

func (t MovementType) reservation() bool {
	return t == MovementReservation || t == MovementUnreservation
}

// Defaults applied to new balances.
const (
	DefaultMinQuantity  int64 = 5
	DefaultMaxQuantity  int64 = 50
	DefaultReorderPoint int64 = 10
)

// Item is a catalog entry. Items are deactivated, never deleted.
type Item struct {
	ID                 int64           `json:"id"`
	SKU                string          `json:"sku"`
	Name               string          `json:"name"`
	Type               ItemType        `json:"item_type"`
	Category           string          `json:"category"`
	PurchasePrice      decimal.Decimal `json:"purchase_price"`
	SellingPrice       decimal.Decimal `json:"selling_price"`
	Unit               string          `json:"unit"`
	TrackQuantity      bool            `json:"track_quantity"`
	AllowNegativeStock bool            `json:"allow_negative_stock"`
	IsActive           bool            `json:"is_active"`
	PrimarySupplierID  int64           `json:"primary_supplier_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Only AllowNegativeStock lifts the non-negative guard; TrackQuantity does
// not.
func (i Item) negativeAllowed() bool {
	return i.AllowNegativeStock
}

// ItemBarcode associates a literal barcode with an item.
type ItemBarcode struct {
	ID         int64     `json:"id"`
	ItemID     int64     `json:"item_id"`
	Barcode    string    `json:"barcode"`
	SupplierID int64     `json:"supplier_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SupplierItem holds supplier terms for an item.
type SupplierItem struct {
	SupplierID    int64           `json:"supplier_id"`
	ItemID        int64           `json:"item_id"`
	SupplierPrice decimal.Decimal `json:"supplier_price"`
	MinOrderQty   int64           `json:"min_order_qty"`
	DeliveryDays  int             `json:"delivery_days"`
	IsPreferred   bool            `json:"is_preferred"`
}

// Balance is the stock position of one item in one shop.
type Balance struct {
	ID                int64      `json:"id"`
	ShopID            int64      `json:"shop_id"`
	ItemID            int64      `json:"item_id"`
	Quantity          int64      `json:"quantity"`
	ReservedQuantity  int64      `json:"reserved_quantity"`
	AvailableQuantity int64      `json:"available_quantity"`
	MinQuantity       int64      `json:"min_quantity"`
	MaxQuantity       int64      `json:"max_quantity"`
	ReorderPoint      int64      `json:"reorder_point"`
	Location          string     `json:"location"`
	Shelf             string     `json:"shelf"`
	LastMovementAt    *time.Time `json:"last_movement_at,omitempty"`
	LastInventoryAt   *time.Time `json:"last_inventory_at,omitempty"`
}

func newBalance(shopID, itemID int64) Balance {
	return Balance{
		ShopID:       shopID,
		ItemID:       itemID,
		MinQuantity:  DefaultMinQuantity,
		MaxQuantity:  DefaultMaxQuantity,
		ReorderPoint: DefaultReorderPoint,
	}
}

func (b *Balance) recompute() {
	b.AvailableQuantity = b.Quantity - b.ReservedQuantity
}

// IsLowStock reports available <= min.
func (b Balance) IsLowStock() bool {
	return b.AvailableQuantity <= b.MinQuantity
}

// NeedsReorder reports available <= reorder point.
func (b Balance) NeedsReorder() bool {
	return b.AvailableQuantity <= b.ReorderPoint
}

// Movement is an immutable ledger row.
type Movement struct {
	ID              int64               `json:"id"`
	BalanceID       int64               `json:"balance_id"`
	ShopID          int64               `json:"shop_id"`
	ItemID          int64               `json:"item_id"`
	Type            MovementType        `json:"movement_type"`
	QuantityBefore  int64               `json:"quantity_before"`
	QuantityChange  int64               `json:"quantity_change"`
	QuantityAfter   int64               `json:"quantity_after"`
	ReservedChange  int64               `json:"reserved_change"`
	PurchaseOrderID int64               `json:"purchase_order_id,omitempty"`
	RepairOrderID   int64               `json:"repair_order_id,omitempty"`
	SaleID          int64               `json:"sale_id,omitempty"`
	CostPerUnit     decimal.NullDecimal `json:"cost_per_unit"`
	ReferenceNumber string              `json:"reference_number"`
	Notes           string              `json:"notes"`
	CreatedBy       int64               `json:"created_by,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// ScanContext tells where a barcode was scanned.
type ScanContext string

const (
	ScanContextPOS       ScanContext = "pos"
	ScanContextInventory ScanContext = "inventory"
)

// ScanEvent is a write-only log of barcode scans.
type ScanEvent struct {
	ID        int64
	Barcode   string
	ItemID    int64
	ShopID    int64
	UserID    int64
	Context   ScanContext
	Quantity  int64
	Notes     string
	CreatedAt time.Time
}

// PriceType distinguishes the two catalog prices.
type PriceType string

const (
	PricePurchase PriceType = "purchase"
	PriceSelling  PriceType = "selling"
)

// PriceHistory records a catalog price change.
type PriceHistory struct {
	ID        int64           `json:"id"`
	ItemID    int64           `json:"item_id"`
	PriceType PriceType       `json:"price_type"`
	Value     decimal.Decimal `json:"value"`
	Notes     string          `json:"notes"`
	ChangedBy int64           `json:"changed_by,omitempty"`
	ChangedAt time.Time       `json:"changed_at"`
}

// CostSource tells where a received cost came from.
type CostSource string

const (
	CostSourceAdHoc         CostSource = "ad_hoc"
	CostSourcePurchaseOrder CostSource = "purchase_order"
)

// CostHistory records the unit cost of a receipt.
type CostHistory struct {
	ID         int64
	ItemID     int64
	ShopID     int64
	Source     CostSource
	SourceID   int64
	Cost       decimal.Decimal
	Quantity   int64
	Notes      string
	ReceivedAt time.Time
}

var (
	// ErrInsufficientStock is returned when a movement would drive stock negative.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInvalidState indicates an operation not allowed in the current state.
	ErrInvalidState = errors.New("inventory: invalid state")
	// ErrItemNotFound indicates the item reference did not resolve.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("inventory: validation failed")
	// ErrDuplicate indicates a unique constraint clash.
	ErrDuplicate = errors.New("inventory: duplicate")
)

// InsufficientStockError carries the details of a rejected debit.
type InsufficientStockError struct {
	ShopID    int64
	ItemID    int64
	SKU       string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for item %s (id %d) in shop %d: requested %d, available %d",
		e.SKU, e.ItemID, e.ShopID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
