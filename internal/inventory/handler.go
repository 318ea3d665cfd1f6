package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/platform/httpx"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	advisor   *Advisor
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, advisor *Advisor, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, advisor: advisor, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermViewItem))
		r.Get("/items/{id}", h.getItem)
		r.Get("/items/{id}/barcodes", h.listBarcodes)
		r.Get("/items/{id}/price-history", h.listPriceHistory)
		r.Get("/lookup", h.lookup)
		r.Post("/barcode/scan", h.scan)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddItem))
		r.Post("/items", h.createItem)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermChangeItem))
		r.Put("/items/{id}/prices", h.updatePrices)
		r.Post("/items/{id}/barcodes", h.addBarcode)
		r.Delete("/items/{id}/barcodes/{code}", h.removeBarcode)
		r.Put("/items/{id}/suppliers/{supplierID}", h.setSupplierItem)
		r.Put("/balances/{id}/thresholds", h.updateThresholds)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermViewStock))
		r.Get("/balances", h.listBalances)
		r.Get("/movements", h.listMovements)
		r.Get("/reorder-suggestions", h.reorderSuggestions)
		r.Get("/reports/turnover", h.turnover)
		r.Get("/reports/verify", h.verifyLedger)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddMovement))
		r.Post("/movements", h.createMovement)
		r.Post("/reservations", h.reserve)
		r.Post("/reservations/release", h.unreserve)
		r.Post("/transfers", h.transfer)
		r.Post("/counts", h.count)
		r.Post("/repair-debits", h.repairDebit)
		r.Post("/receipts/ad-hoc", h.receiveAdHoc)
		r.Post("/adjustments/ad-hoc", h.adjustAdHoc)
		r.Post("/adjustments/scan", h.adjustByScan)
	})
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", stockErr.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInvalidState), errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrBalanceNotFound), errors.Is(err, shops.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, shops.ErrInactive):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if ErrorCode(err) == CodeInternal && !errors.Is(err, shared.ErrShopForbidden) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

type createItemRequest struct {
	SKU                string          `json:"sku" validate:"required,max=64"`
	Name               string          `json:"name" validate:"required,max=200"`
	ItemType           string          `json:"item_type" validate:"omitempty,oneof=component accessory consumable tool software service"`
	Category           string          `json:"category"`
	PurchasePrice      decimal.Decimal `json:"purchase_price"`
	SellingPrice       decimal.Decimal `json:"selling_price"`
	Unit               string          `json:"unit" validate:"max=16"`
	TrackQuantity      *bool           `json:"track_quantity"`
	AllowNegativeStock bool            `json:"allow_negative_stock"`
	PrimarySupplierID  int64           `json:"primary_supplier_id" validate:"gte=0"`
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	track := true
	if req.TrackQuantity != nil {
		track = *req.TrackQuantity
	}
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{
		SKU:                req.SKU,
		Name:               req.Name,
		Type:               ItemType(req.ItemType),
		Category:           req.Category,
		PurchasePrice:      req.PurchasePrice,
		SellingPrice:       req.SellingPrice,
		Unit:               req.Unit,
		TrackQuantity:      track,
		AllowNegativeStock: req.AllowNegativeStock,
		PrimarySupplierID:  req.PrimarySupplierID,
		ActorID:            actorID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

type updatePricesRequest struct {
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
}

func (h *Handler) updatePrices(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updatePricesRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	item, err := h.service.UpdatePrices(r.Context(), id, req.PurchasePrice, req.SellingPrice, actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listBarcodes(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	codes, err := h.service.ListBarcodes(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, codes)
}

func (h *Handler) listPriceHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rows, err := h.service.ListPriceHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

type addBarcodeRequest struct {
	Barcode    string `json:"barcode" validate:"required,max=128"`
	SupplierID int64  `json:"supplier_id" validate:"gte=0"`
}

func (h *Handler) addBarcode(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req addBarcodeRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	created, err := h.service.AddBarcode(r.Context(), id, req.Barcode, req.SupplierID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) removeBarcode(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.RemoveBarcode(r.Context(), id, chi.URLParam(r, "code")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type supplierItemRequest struct {
	SupplierPrice decimal.Decimal `json:"supplier_price"`
	MinOrderQty   int64           `json:"min_order_qty" validate:"gte=0"`
	DeliveryDays  int             `json:"delivery_days" validate:"gte=0"`
	IsPreferred   bool            `json:"is_preferred"`
}

func (h *Handler) setSupplierItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	supplierID, err := httpx.IDParam(r, "supplierID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req supplierItemRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	si := SupplierItem{
		SupplierID:    supplierID,
		ItemID:        id,
		SupplierPrice: req.SupplierPrice,
		MinOrderQty:   req.MinOrderQty,
		DeliveryDays:  req.DeliveryDays,
		IsPreferred:   req.IsPreferred,
	}
	if err := h.service.SetSupplierItem(r.Context(), si); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ref := ItemRef{Kind: RefKind(q.Get("kind")), Value: q.Get("value")}
	item, err := h.service.Resolver().Lookup(r.Context(), ref, ScanMeta{ShopID: shopID, UserID: actorID(r), Context: ScanContextInventory})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

type scanRequest struct {
	Barcode  string `json:"barcode" validate:"required,max=128"`
	ShopID   int64  `json:"shop_id" validate:"gte=0"`
	Context  string `json:"context" validate:"omitempty,oneof=pos inventory"`
	Quantity int64  `json:"quantity" validate:"gte=0"`
	Notes    string `json:"notes"`
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if req.ShopID != 0 {
		if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	payload, err := h.service.Resolver().Scan(r.Context(), ScanInput{Code: req.Barcode, ScanMeta: ScanMeta{
		ShopID:   req.ShopID,
		UserID:   actorID(r),
		Context:  ScanContext(req.Context),
		Quantity: req.Quantity,
		Notes:    req.Notes,
	}})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, payload)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if shopID != 0 {
		if err := rbac.CheckShop(r.Context(), shopID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	pg := shared.NewPagination(page, limit, 0)
	lowOnly, _ := strconv.ParseBool(q.Get("low_stock_only"))
	rows, err := h.service.ListBalances(r.Context(), BalanceFilter{
		ShopID:       shopID,
		LowStockOnly: lowOnly,
		Search:       strings.TrimSpace(q.Get("search")),
		Limit:        pg.PerPage,
		Offset:       pg.Offset(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows, "pagination": pg})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{Type: MovementType(q.Get("type"))}
	var err error
	if filter.ShopID, err = httpx.QueryInt64(r, "shop_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.ItemID, err = httpx.QueryInt64(r, "item_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.BalanceID, err = httpx.QueryInt64(r, "balance_id"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.ShopID != 0 {
		if err := rbac.CheckShop(r.Context(), filter.ShopID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			h.writeError(w, r, validationf("invalid from date"))
			return
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			h.writeError(w, r, validationf("invalid to date"))
			return
		}
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	rows, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

type thresholdsRequest struct {
	MinQuantity  int64  `json:"min_quantity" validate:"gte=0"`
	MaxQuantity  int64  `json:"max_quantity" validate:"gte=0"`
	ReorderPoint int64  `json:"reorder_point" validate:"gte=0"`
	Location     string `json:"location" validate:"max=64"`
	Shelf        string `json:"shelf" validate:"max=64"`
}

func (h *Handler) updateThresholds(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req thresholdsRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	current, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := rbac.CheckShop(r.Context(), current.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	bal, err := h.service.UpdateThresholds(r.Context(), ThresholdsInput{
		BalanceID:    id,
		MinQuantity:  req.MinQuantity,
		MaxQuantity:  req.MaxQuantity,
		ReorderPoint: req.ReorderPoint,
		Location:     req.Location,
		Shelf:        req.Shelf,
		ActorID:      actorID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

type movementRequest struct {
	ShopID          int64  `json:"shop_id" validate:"required,gt=0"`
	ItemID          int64  `json:"item_id" validate:"required,gt=0"`
	MovementType    string `json:"movement_type" validate:"required,oneof=receipt shipment adjustment inventory write_off return"`
	Quantity        int64  `json:"quantity" validate:"required"`
	Notes           string `json:"notes"`
	ReferenceNumber string `json:"reference_number" validate:"max=64"`
}

func (h *Handler) createMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	mv, err := h.service.ApplyShopMovement(r.Context(), ShopMovementInput{
		ShopID:          req.ShopID,
		ItemID:          req.ItemID,
		Type:            MovementType(req.MovementType),
		QuantityChange:  signedQuantity(MovementType(req.MovementType), req.Quantity),
		ActorID:         actorID(r),
		Notes:           req.Notes,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

// signedQuantity lets clients send positive amounts for outbound types.
func signedQuantity(t MovementType, qty int64) int64 {
	switch t {
	case MovementShipment, MovementWriteOff:
		if qty > 0 {
			return -qty
		}
	}
	return qty
}

type reserveRequest struct {
	ShopID        int64  `json:"shop_id" validate:"required,gt=0"`
	ItemID        int64  `json:"item_id" validate:"required,gt=0"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	RepairOrderID int64  `json:"repair_order_id" validate:"gte=0"`
	Notes         string `json:"notes"`
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	h.handleReservation(w, r, h.service.Reserve)
}

func (h *Handler) unreserve(w http.ResponseWriter, r *http.Request) {
	h.handleReservation(w, r, h.service.Unreserve)
}

func (h *Handler) handleReservation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, in ReserveInput) (Balance, error)) {
	var req reserveRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	bal, err := op(r.Context(), ReserveInput{
		ShopID:        req.ShopID,
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		ActorID:       actorID(r),
		Notes:         req.Notes,
		RepairOrderID: req.RepairOrderID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

type transferRequest struct {
	ItemID     int64  `json:"item_id" validate:"required,gt=0"`
	FromShopID int64  `json:"from_shop_id" validate:"required,gt=0"`
	ToShopID   int64  `json:"to_shop_id" validate:"required,gt=0,nefield=FromShopID"`
	Quantity   int64  `json:"quantity" validate:"required,gt=0"`
	Notes      string `json:"notes"`
	Reference  string `json:"reference_number" validate:"max=64"`
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	for _, shopID := range []int64{req.FromShopID, req.ToShopID} {
		if err := rbac.CheckShop(r.Context(), shopID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	out, in, err := h.service.Transfer(r.Context(), TransferInput{
		ItemID:     req.ItemID,
		FromShopID: req.FromShopID,
		ToShopID:   req.ToShopID,
		Quantity:   req.Quantity,
		ActorID:    actorID(r),
		Notes:      req.Notes,
		Reference:  req.Reference,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]Movement{"out": out, "in": in})
}

type countRequest struct {
	ShopID  int64  `json:"shop_id" validate:"required,gt=0"`
	ItemID  int64  `json:"item_id" validate:"required,gt=0"`
	Counted int64  `json:"counted" validate:"gte=0"`
	Notes   string `json:"notes"`
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	bal, mv, err := h.service.Count(r.Context(), CountInput{
		ShopID:  req.ShopID,
		ItemID:  req.ItemID,
		Counted: req.Counted,
		ActorID: actorID(r),
		Notes:   req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balance": bal, "movement": mv})
}

type repairDebitRequest struct {
	ShopID             int64  `json:"shop_id" validate:"required,gt=0"`
	ItemID             int64  `json:"item_id" validate:"required,gt=0"`
	Quantity           int64  `json:"quantity" validate:"required,gt=0"`
	RepairOrderID      int64  `json:"repair_order_id" validate:"required,gt=0"`
	ConsumeReservation bool   `json:"consume_reservation"`
	Notes              string `json:"notes"`
}

func (h *Handler) repairDebit(w http.ResponseWriter, r *http.Request) {
	var req repairDebitRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	mv, err := h.service.DebitForRepairOrder(r.Context(), RepairDebitInput{
		ShopID:             req.ShopID,
		ItemID:             req.ItemID,
		Quantity:           req.Quantity,
		RepairOrderID:      req.RepairOrderID,
		ActorID:            actorID(r),
		Notes:              req.Notes,
		ConsumeReservation: req.ConsumeReservation,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

type batchRequest struct {
	ShopID      int64        `json:"shop_id" validate:"required,gt=0"`
	Entries     []BatchEntry `json:"entries" validate:"required,min=1,max=500"`
	CommonNotes string       `json:"common_notes"`
}

func (h *Handler) receiveAdHoc(w http.ResponseWriter, r *http.Request) {
	h.handleBatch(w, r, h.service.ReceiveAdHoc)
}

func (h *Handler) adjustAdHoc(w http.ResponseWriter, r *http.Request) {
	h.handleBatch(w, r, h.service.AdjustAdHoc)
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, in BatchInput) (BatchResult, error)) {
	var req batchRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := op(r.Context(), BatchInput{
		ShopID:      req.ShopID,
		ActorID:     actorID(r),
		Entries:     req.Entries,
		CommonNotes: req.CommonNotes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type scanAdjustRequest struct {
	ShopID   int64  `json:"shop_id" validate:"required,gt=0"`
	Barcode  string `json:"barcode" validate:"required,max=128"`
	Quantity int64  `json:"quantity" validate:"required"`
	Notes    string `json:"notes"`
}

func (h *Handler) adjustByScan(w http.ResponseWriter, r *http.Request) {
	var req scanAdjustRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	mv, err := h.service.AdjustByScan(r.Context(), ScanAdjustInput{
		ShopID:   req.ShopID,
		ActorID:  actorID(r),
		Code:     req.Barcode,
		Quantity: req.Quantity,
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) reorderSuggestions(w http.ResponseWriter, r *http.Request) {
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := rbac.CheckShop(r.Context(), shopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	recs, err := h.advisor.Recommend(r.Context(), ReorderFilter{ShopID: shopID, Limit: limit, Fresh: fresh})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recs)
}

func (h *Handler) turnover(w http.ResponseWriter, r *http.Request) {
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if shopID != 0 {
		if err := rbac.CheckShop(r.Context(), shopID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	rows, err := h.service.Turnover(r.Context(), shopID, days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) verifyLedger(w http.ResponseWriter, r *http.Request) {
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := rbac.CheckShop(r.Context(), shopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.service.VerifyLedger(r.Context(), shopID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
