package inventory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/miazigoo/RepireCRM/internal/platform/cache"
)

// RefKind selects how an ItemRef is interpreted.
type RefKind string

const (
	RefByID      RefKind = "id"
	RefBySKU     RefKind = "sku"
	RefByBarcode RefKind = "barcode"
	// RefAuto tries id, then SKU, then barcode.
	RefAuto RefKind = "auto"
)

// ItemRef identifies an item by id, SKU or barcode.
type ItemRef struct {
	Kind  RefKind `json:"kind"`
	Value string  `json:"value"`
}

// ByID builds an id reference.
func ByID(id int64) ItemRef { return ItemRef{Kind: RefByID, Value: strconv.FormatInt(id, 10)} }

// BySKU builds a SKU reference.
func BySKU(sku string) ItemRef { return ItemRef{Kind: RefBySKU, Value: sku} }

// ByBarcode builds a barcode reference.
func ByBarcode(code string) ItemRef { return ItemRef{Kind: RefByBarcode, Value: code} }

// ScanMeta is logged with every barcode lookup.
type ScanMeta struct {
	ShopID   int64
	UserID   int64
	Context  ScanContext
	Quantity int64
	Notes    string
}

// ScanInput is one barcode scan.
type ScanInput struct {
	Code string
	ScanMeta
}

// ScanPayload is the scan response returned to clients.
type ScanPayload struct {
	Found             bool            `json:"found"`
	ItemID            int64           `json:"item_id,omitempty"`
	Name              string          `json:"name,omitempty"`
	SKU               string          `json:"sku,omitempty"`
	Barcode           string          `json:"barcode"`
	Price             decimal.Decimal `json:"price"`
	AvailableQuantity int64           `json:"available_quantity"`
	Unit              string          `json:"unit,omitempty"`
}

// Resolver maps scanned codes and item references to catalog items.
type Resolver struct {
	repo   RepositoryPort
	cache  *cache.JSONStore
	group  singleflight.Group
	logger *slog.Logger
}

// NewResolver constructs a Resolver. A nil cache disables caching.
func NewResolver(repo RepositoryPort, store *cache.JSONStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, cache: store, logger: logger}
}

// NormalizeBarcode applies NFKC and trims surrounding space.
func NormalizeBarcode(code string) string {
	return strings.TrimSpace(norm.NFKC.String(code))
}

// Resolve looks up a scanned code and logs the scan, hit or miss.
func (r *Resolver) Resolve(ctx context.Context, in ScanInput) (Item, bool, error) {
	code := NormalizeBarcode(in.Code)
	if code == "" {
		return Item{}, false, validationf("barcode required")
	}
	item, found, err := r.byBarcode(ctx, code)
	r.logScan(ctx, code, item.ID, in.ScanMeta)
	if err != nil {
		return Item{}, false, err
	}
	return item, found, nil
}

// Lookup resolves a reference with ordered fallback. Barcode attempts are
// logged with meta.
func (r *Resolver) Lookup(ctx context.Context, ref ItemRef, meta ScanMeta) (Item, error) {
	value := strings.TrimSpace(ref.Value)
	if value == "" {
		return Item{}, validationf("item reference required")
	}
	var kinds []RefKind
	switch ref.Kind {
	case RefByID, RefBySKU, RefByBarcode:
		kinds = []RefKind{ref.Kind}
	case RefAuto, "":
		kinds = []RefKind{RefByID, RefBySKU, RefByBarcode}
	default:
		return Item{}, validationf("unknown reference kind %q", ref.Kind)
	}
	for _, kind := range kinds {
		item, ok, err := r.lookupOne(ctx, kind, value, meta)
		if err != nil {
			return Item{}, err
		}
		if ok {
			return item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (r *Resolver) lookupOne(ctx context.Context, kind RefKind, value string, meta ScanMeta) (Item, bool, error) {
	switch kind {
	case RefByID:
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return Item{}, false, nil
		}
		return activeOrMiss(r.repo.GetItem(ctx, id))
	case RefBySKU:
		return activeOrMiss(r.repo.GetItemBySKU(ctx, value))
	default:
		item, found, err := r.Resolve(ctx, ScanInput{Code: value, ScanMeta: meta})
		return item, found, err
	}
}

func activeOrMiss(item Item, err error) (Item, bool, error) {
	if errors.Is(err, ErrItemNotFound) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	if !item.IsActive {
		return Item{}, false, nil
	}
	return item, true, nil
}

// Scan resolves a code and builds the client payload with shop availability.
func (r *Resolver) Scan(ctx context.Context, in ScanInput) (ScanPayload, error) {
	item, found, err := r.Resolve(ctx, in)
	if err != nil {
		return ScanPayload{}, err
	}
	payload := ScanPayload{Found: found, Barcode: NormalizeBarcode(in.Code)}
	if !found {
		return payload, nil
	}
	payload.ItemID = item.ID
	payload.Name = item.Name
	payload.SKU = item.SKU
	payload.Price = item.SellingPrice
	payload.Unit = item.Unit
	if in.ShopID != 0 {
		bal, err := r.repo.FindBalance(ctx, in.ShopID, item.ID)
		switch {
		case err == nil:
			payload.AvailableQuantity = bal.AvailableQuantity
		case !errors.Is(err, ErrBalanceNotFound):
			return ScanPayload{}, err
		}
	}
	return payload, nil
}

// Invalidate drops cached mappings for the codes.
func (r *Resolver) Invalidate(ctx context.Context, codes ...string) {
	if err := r.cache.Delete(ctx, codes...); err != nil {
		r.logger.Warn("invalidate barcode cache", slog.Any("error", err))
	}
}

func (r *Resolver) byBarcode(ctx context.Context, code string) (Item, bool, error) {
	var itemID int64
	hit, err := r.cache.Get(ctx, code, &itemID)
	if err != nil {
		r.logger.Warn("barcode cache get", slog.String("barcode", code), slog.Any("error", err))
	}
	if hit && itemID > 0 {
		item, ok, err := activeOrMiss(r.repo.GetItem(ctx, itemID))
		if err != nil || ok {
			return item, ok, err
		}
	}
	v, err, _ := r.group.Do(code, func() (any, error) {
		matches, err := r.repo.FindBarcodeMatches(ctx, code)
		if err != nil {
			return nil, err
		}
		match, ok := pickAssociation(matches)
		if !ok {
			return nil, nil
		}
		if err := r.cache.Set(ctx, code, match.Item.ID); err != nil {
			r.logger.Warn("barcode cache set", slog.String("barcode", code), slog.Any("error", err))
		}
		return match.Item, nil
	})
	if err != nil {
		return Item{}, false, err
	}
	if v == nil {
		return Item{}, false, nil
	}
	return v.(Item), true, nil
}

// pickAssociation selects among items sharing a literal code: inactive items
// are skipped and the most recently created association wins.
func pickAssociation(matches []BarcodeMatch) (BarcodeMatch, bool) {
	active := make([]BarcodeMatch, 0, len(matches))
	for _, m := range matches {
		if m.Item.IsActive {
			active = append(active, m)
		}
	}
	if len(active) == 0 {
		return BarcodeMatch{}, false
	}
	sort.Slice(active, func(i, j int) bool {
		a, b := active[i].Barcode, active[j].Barcode
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return active[0], true
}

func (r *Resolver) logScan(ctx context.Context, code string, itemID int64, meta ScanMeta) {
	scanCtx := meta.Context
	if scanCtx == "" {
		scanCtx = ScanContextInventory
	}
	qty := meta.Quantity
	if qty == 0 {
		qty = 1
	}
	evt := ScanEvent{
		Barcode:  code,
		ItemID:   itemID,
		ShopID:   meta.ShopID,
		UserID:   meta.UserID,
		Context:  scanCtx,
		Quantity: qty,
		Notes:    meta.Notes,
	}
	if err := r.repo.InsertScanEvent(ctx, evt); err != nil {
		r.logger.Error("log barcode scan", slog.String("barcode", code), slog.Any("error", err))
	}
}
