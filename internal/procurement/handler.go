package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/inventory"
	"github.com/miazigoo/RepireCRM/internal/platform/httpx"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
	"github.com/miazigoo/RepireCRM/internal/shops"
)

// Handler manages procurement endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermViewPurchaseOrders, rbac.PermAddPurchaseOrder, rbac.PermReceivePurchaseOrders))
		r.Get("/purchase-orders", h.listOrders)
		r.Get("/purchase-orders/{id}", h.getOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddPurchaseOrder))
		r.Post("/purchase-orders", h.createOrder)
		r.Post("/purchase-orders/{id}/send", h.sendOrder)
		r.Post("/purchase-orders/{id}/confirm", h.confirmOrder)
		r.Post("/purchase-orders/{id}/cancel", h.cancelOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermReceivePurchaseOrders))
		r.Post("/purchase-orders/{id}/receive", h.receiveOrder)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", stockErr.Error())
	case errors.Is(err, inventory.ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, inventory.ErrItemNotFound), errors.Is(err, shops.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, inventory.ErrValidation), errors.Is(err, shops.ErrInactive):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if !errors.Is(err, shared.ErrShopForbidden) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("procurement request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}

// loadOrder fetches the order in the path and checks shop access.
func (h *Handler) loadOrder(w http.ResponseWriter, r *http.Request) (PurchaseOrder, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return PurchaseOrder{}, false
	}
	order, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return PurchaseOrder{}, false
	}
	if err := rbac.CheckShop(r.Context(), order.ShopID); err != nil {
		h.writeError(w, r, err)
		return PurchaseOrder{}, false
	}
	return order, true
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := rbac.CheckShop(r.Context(), shopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	supplierID, _ := httpx.QueryInt64(r, "supplier_id")
	page, _ := httpx.QueryInt64(r, "page")
	limit, _ := httpx.QueryInt64(r, "limit")
	pg := shared.NewPagination(int(page), int(limit), 0)
	orders, err := h.service.ListPurchaseOrders(r.Context(), ListFilters{
		ShopID:     shopID,
		Status:     POStatus(r.URL.Query().Get("status")),
		SupplierID: supplierID,
		Limit:      pg.PerPage,
		Offset:     pg.Offset(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type orderLineRequest struct {
	ItemID    int64           `json:"item_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	ShopID               int64              `json:"shop_id" validate:"required,gt=0"`
	SupplierID           int64              `json:"supplier_id" validate:"required,gt=0"`
	Notes                string             `json:"notes" validate:"max=1000"`
	TaxAmount            decimal.Decimal    `json:"tax_amount"`
	ExpectedDeliveryDate *time.Time         `json:"expected_delivery_date"`
	Lines                []orderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, r, err)
		return
	}
	input := CreateOrderInput{
		ShopID:               req.ShopID,
		SupplierID:           req.SupplierID,
		Notes:                req.Notes,
		TaxAmount:            req.TaxAmount,
		ExpectedDeliveryDate: req.ExpectedDeliveryDate,
		ActorID:              actorID(r),
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, LineInput{ItemID: l.ItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	order, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) sendOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.SendPurchaseOrder)
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ConfirmPurchaseOrder)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelPurchaseOrder)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, int64) (PurchaseOrder, error)) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	updated, err := op(r.Context(), order.ID, actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

type receiveLineRequest struct {
	LineID   int64 `json:"line_id" validate:"required,gt=0"`
	Quantity int64 `json:"quantity"`
}

type receiveRequest struct {
	Lines []receiveLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) receiveOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOrder(w, r)
	if !ok {
		return
	}
	var req receiveRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	input := ReceiveInput{OrderID: order.ID, ActorID: actorID(r)}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, ReceiveLine{LineID: l.LineID, Quantity: l.Quantity})
	}
	result, err := h.service.ReceivePurchaseOrder(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}
