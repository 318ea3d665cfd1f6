package finance

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/miazigoo/RepireCRM/internal/platform/httpx"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
)

// Handler exposes payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs the finance handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers finance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddPayment, rbac.PermAddSale))
		r.Get("/payment-methods", h.listMethods)
		r.Get("/cash-registers", h.listRegisters)
		r.Get("/payments/{id}", h.getPayment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermAddPayment))
		r.Post("/payments", h.recordPayment)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMethodNotFound), errors.Is(err, ErrRegisterNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if !errors.Is(err, shared.ErrShopForbidden) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("finance request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func (h *Handler) listMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListMethods(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, methods)
}

func (h *Handler) listRegisters(w http.ResponseWriter, r *http.Request) {
	shopID, err := httpx.QueryInt64(r, "shop_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := rbac.CheckShop(r.Context(), shopID); err != nil {
		h.writeError(w, err)
		return
	}
	regs, err := h.service.ListRegisters(r.Context(), shopID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, regs)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := rbac.CheckShop(r.Context(), p.ShopID); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

type paymentRequest struct {
	ShopID          int64           `json:"shop_id" validate:"required,gt=0"`
	Amount          decimal.Decimal `json:"amount"`
	MethodCode      string          `json:"method_code" validate:"required,max=32"`
	CashRegisterID  int64           `json:"cash_register_id" validate:"gte=0"`
	Description     string          `json:"description" validate:"max=500"`
	ReferenceNumber string          `json:"reference_number" validate:"max=64"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	if err := rbac.CheckShop(r.Context(), req.ShopID); err != nil {
		h.writeError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	p, err := h.service.RecordPayment(r.Context(), PaymentInput{
		ShopID:          req.ShopID,
		Amount:          req.Amount,
		MethodCode:      req.MethodCode,
		CashRegisterID:  req.CashRegisterID,
		Description:     req.Description,
		ReferenceNumber: req.ReferenceNumber,
		ActorID:         actor.UserID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}
