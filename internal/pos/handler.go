package pos

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/finance"
	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/platform/httpx"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

// Handler exposes the point-of-sale endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the POS handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers POS routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddSale, rbac.PermChangeSale))
		r.Get("/sales", h.listSales)
		r.Get("/sales/{id}", h.getSale)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddSale))
		r.Post("/sales", h.startSale)
		r.Post("/sales/{id}/finalize", h.finalize)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddSale, rbac.PermChangeSale))
		r.Post("/sales/{id}/lines", h.addLine)
		r.Put("/sales/{id}/lines/{itemID}", h.updateLine)
		r.Delete("/sales/{id}/lines/{itemID}", h.removeLine)
		r.Put("/sales/{id}/discount", h.setDiscount)
		r.Post("/sales/{id}/cancel", h.cancel)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", stockErr.Error())
	case errors.Is(err, inventory.ErrInvalidState), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrSaleNotFound), errors.Is(err, inventory.ErrItemNotFound),
		errors.Is(err, finance.ErrMethodNotFound), errors.Is(err, finance.ErrRegisterNotFound), errors.Is(err, shops.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, inventory.ErrValidation), errors.Is(err, finance.ErrValidation), errors.Is(err, shops.ErrInactive):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if !errors.Is(err, shared.ErrShopForbidden) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("pos request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

// loadSale fetches the sale named in the path and checks the caller may
// work in its shop.
func (h *Handler) loadSale(w http.ResponseWriter, r *http.Request) (Sale, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return Sale{}, false
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return Sale{}, false
	}
	if err := rbac.CheckShop(r.Context(), sale.ShopID); err != nil {
		h.writeError(w, r, err)
		return Sale{}, false
	}
	return sale, true
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}

type startSaleRequest struct {
	ShopID     int64  `json:"shop_id" validate:"required,gt=0"`
	CustomerID int64  `json:"customer_id" validate:"gte=0"`
	Notes      string `json:"notes" validate:"max=500"`
}

func (h *Handler) startSale(w http.ResponseWriter, r *http.Request) {
	var req startSaleRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	sale, err := h.service.StartSale(r.Context(), StartSaleInput{
		ShopID:     req.ShopID,
		CashierID:  actorID(r),
		CustomerID: req.CustomerID,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := rbac.CheckShop(r.Context(), shopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	page, _ := httpx.QueryInt64(r, "page")
	limit, _ := httpx.QueryInt64(r, "limit")
	pg := shared.NewPagination(int(page), int(limit), 0)
	sales, err := h.service.ListSales(r.Context(), SaleFilter{
		ShopID: shopID,
		Status: Status(r.URL.Query().Get("status")),
		Limit:  pg.PerPage,
		Offset: pg.Offset(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sales)
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	sale, ok := h.loadSale(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

type addLineRequest struct {
	Barcode  string `json:"barcode" validate:"required_without_all=SKU ItemID,max=128"`
	SKU      string `json:"sku" validate:"max=64"`
	ItemID   int64  `json:"item_id" validate:"gte=0"`
	Quantity int64  `json:"quantity"`
}

func (r addLineRequest) ref() inventory.ItemRef {
	switch {
	case r.ItemID > 0:
		return inventory.ByID(r.ItemID)
	case strings.TrimSpace(r.SKU) != "":
		return inventory.BySKU(r.SKU)
	default:
		return inventory.ByBarcode(r.Barcode)
	}
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	sale, ok := h.loadSale(w, r)
	if !ok {
		return
	}
	var req addLineRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	updated, err := h.service.AddLine(r.Context(), AddLineInput{
		SaleID:   sale.ID,
		Ref:      req.ref(),
		Quantity: req.Quantity,
		ActorID:  actorID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

type updateLineRequest struct {
	Quantity int64 `json:"quantity" validate:"gte=0"`
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	sale, ok := h.loadSale(w, r)
	if !ok {
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateLineRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	updated, err := h.service.UpdateLineQuantity(r.Context(), sale.ID, itemID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	sale, ok := h.loadSale(w, r)
	if !ok {
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.service.RemoveLine(r.Context(), sale.ID, itemID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

type discountRequest struct {
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

func (h *Handler) setDiscount(w http.ResponseWriter, r *http.Request) {
	sale, ok := h.loadSale(w, r)
	if !ok {
		return
	}
	var req discountRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	updated, err := h.service.SetDiscount(r.Context(), sale.ID, req.DiscountAmount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sale, ok := h.loadSale(w, r)
	if !ok {
		return
	}
	updated, err := h.service.CancelSale(r.Context(), sale.ID, actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

type finalizeRequest struct {
	PaymentMethod  string `json:"payment_method" validate:"max=32"`
	CashRegisterID int64  `json:"cash_register_id" validate:"gte=0"`
	Description    string `json:"description" validate:"max=500"`
}

type finalizeResponse struct {
	Sale    Sale             `json:"sale"`
	Payment *finance.Payment `json:"payment,omitempty"`
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	sale, ok := h.loadSale(w, r)
	if !ok {
		return
	}
	var req finalizeRequest
	if r.ContentLength != 0 {
		if !httpx.Bind(w, r, h.validator, &req) {
			return
		}
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		if _, err := uuid.Parse(key); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "Idempotency-Key must be a UUID")
			return
		}
	}
	in := FinalizeInput{SaleID: sale.ID, ActorID: actorID(r), IdempotencyKey: key}
	if req.PaymentMethod == "" {
		completed, err := h.service.Finalize(r.Context(), in)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, finalizeResponse{Sale: completed})
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if !actor.HasPermission(rbac.PermAddPayment) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "recording a payment requires "+rbac.PermAddPayment)
		return
	}
	in.Payment = &PaymentInput{MethodCode: req.PaymentMethod, CashRegisterID: req.CashRegisterID, Description: req.Description}
	completed, payment, err := h.service.FinalizeWithPayment(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := finalizeResponse{Sale: completed}
	if payment.ID != 0 {
		resp.Payment = &payment
	}
	httpx.JSON(w, http.StatusOK, resp)
}
