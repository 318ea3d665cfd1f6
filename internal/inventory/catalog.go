package inventory

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/shared"
)

// CreateItemInput describes a new catalog item.
type CreateItemInput struct {
	SKU                string
	Name               string
	Type               ItemType
	Category           string
	PurchasePrice      decimal.Decimal
	SellingPrice       decimal.Decimal
	Unit               string
	TrackQuantity      bool
	AllowNegativeStock bool
	PrimarySupplierID  int64
	ActorID            int64
}

// CreateItem inserts the item, a zero balance in every active shop and the
// initial price history, all in one transaction.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	item := Item{
		SKU:                strings.TrimSpace(input.SKU),
		Name:               strings.TrimSpace(input.Name),
		Type:               input.Type,
		Category:           input.Category,
		PurchasePrice:      input.PurchasePrice,
		SellingPrice:       input.SellingPrice,
		Unit:               input.Unit,
		TrackQuantity:      input.TrackQuantity,
		AllowNegativeStock: input.AllowNegativeStock,
		IsActive:           true,
		PrimarySupplierID:  input.PrimarySupplierID,
	}
	if item.SKU == "" || item.Name == "" {
		return Item{}, validationf("sku and name required")
	}
	if item.Type == "" {
		item.Type = ItemTypeComponent
	}
	if !item.Type.Valid() {
		return Item{}, validationf("unknown item type %q", item.Type)
	}
	if item.Unit == "" {
		item.Unit = "pcs"
	}
	if item.PurchasePrice.IsNegative() || item.SellingPrice.IsNegative() {
		return Item{}, validationf("prices must be >= 0")
	}
	activeShops, err := s.shops.ListActive(ctx)
	if err != nil {
		return Item{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		for _, shop := range activeShops {
			if _, err := tx.EnsureBalance(ctx, shop.ID, item.ID); err != nil {
				return err
			}
		}
		for _, p := range []PriceHistory{
			{ItemID: item.ID, PriceType: PricePurchase, Value: item.PurchasePrice, Notes: "Initial purchase price", ChangedBy: input.ActorID},
			{ItemID: item.ID, PriceType: PriceSelling, Value: item.SellingPrice, Notes: "Initial selling price", ChangedBy: input.ActorID},
		} {
			if err := tx.InsertPriceHistory(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  input.ActorID,
		Action:   "inventory:item_created",
		Entity:   "inventory_item",
		EntityID: strconv.FormatInt(item.ID, 10),
		Meta:     map[string]any{"sku": item.SKU, "shops": len(activeShops)},
	})
	return item, nil
}

// UpdatePrices changes catalog prices and logs each changed value.
func (s *Service) UpdatePrices(ctx context.Context, itemID int64, purchase, selling decimal.Decimal, actorID int64) (Item, error) {
	if purchase.IsNegative() || selling.IsNegative() {
		return Item{}, validationf("prices must be >= 0")
	}
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		item, err = tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		var changes []PriceHistory
		if !item.PurchasePrice.Equal(purchase) {
			changes = append(changes, PriceHistory{ItemID: itemID, PriceType: PricePurchase, Value: purchase,
				Notes: "Purchase price changed from " + item.PurchasePrice.StringFixed(2), ChangedBy: actorID})
		}
		if !item.SellingPrice.Equal(selling) {
			changes = append(changes, PriceHistory{ItemID: itemID, PriceType: PriceSelling, Value: selling,
				Notes: "Selling price changed from " + item.SellingPrice.StringFixed(2), ChangedBy: actorID})
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.UpdateItemPrices(ctx, itemID, purchase, selling); err != nil {
			return err
		}
		for _, c := range changes {
			if err := tx.InsertPriceHistory(ctx, c); err != nil {
				return err
			}
		}
		item.PurchasePrice = purchase
		item.SellingPrice = selling
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// AddBarcode associates a code with an item and drops the cached mapping.
func (s *Service) AddBarcode(ctx context.Context, itemID int64, code string, supplierID int64) (ItemBarcode, error) {
	code = NormalizeBarcode(code)
	if code == "" {
		return ItemBarcode{}, validationf("barcode required")
	}
	var created ItemBarcode
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItem(ctx, itemID); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertBarcode(ctx, ItemBarcode{ItemID: itemID, Barcode: code, SupplierID: supplierID})
		return err
	})
	if err != nil {
		return ItemBarcode{}, err
	}
	s.resolver.Invalidate(ctx, code)
	return created, nil
}

// RemoveBarcode drops an association and the cached mapping.
func (s *Service) RemoveBarcode(ctx context.Context, itemID int64, code string) error {
	code = NormalizeBarcode(code)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteBarcode(ctx, itemID, code)
	})
	if err != nil {
		return err
	}
	s.resolver.Invalidate(ctx, code)
	return nil
}

// ListBarcodes lists the codes of an item.
func (s *Service) ListBarcodes(ctx context.Context, itemID int64) ([]ItemBarcode, error) {
	return s.repo.ListBarcodes(ctx, itemID)
}

// ListPriceHistory lists price changes of an item, oldest first.
func (s *Service) ListPriceHistory(ctx context.Context, itemID int64) ([]PriceHistory, error) {
	return s.repo.ListPriceHistory(ctx, itemID)
}

// SetSupplierItem records supplier terms. A preferred row clears the flag on
// the item's other suppliers.
func (s *Service) SetSupplierItem(ctx context.Context, si SupplierItem) error {
	if si.SupplierID == 0 || si.ItemID == 0 {
		return validationf("supplier and item required")
	}
	if si.MinOrderQty <= 0 {
		si.MinOrderQty = 1
	}
	if si.SupplierPrice.IsNegative() || si.DeliveryDays < 0 {
		return validationf("supplier price and delivery days must be >= 0")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItem(ctx, si.ItemID); err != nil {
			return err
		}
		return tx.UpsertSupplierItem(ctx, si)
	})
}
