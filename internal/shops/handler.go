package shops

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/miazigoo/RepireCRM/internal/platform/httpx"
	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
)

// Handler exposes shop and settings endpoints.
type Handler struct {
	logger    *slog.Logger
	dir       *Directory
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, dir *Directory, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, dir: dir, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers shop routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermViewShops, rbac.PermChangeShop))
		r.Get("/shops", h.listShops)
		r.Get("/shops/{id}", h.getShop)
		r.Get("/shops/{id}/settings", h.getSettings)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermChangeShop))
		r.Post("/shops", h.createShop)
		r.Put("/shops/{id}/settings", h.saveSettings)
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		if !errors.Is(err, shared.ErrShopForbidden) && !errors.Is(err, httpx.ErrValidation) {
			h.logger.Error("shops request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func (h *Handler) shopParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.writeError(w, err)
		return 0, false
	}
	if err := rbac.CheckShop(r.Context(), id); err != nil {
		h.writeError(w, err)
		return 0, false
	}
	return id, true
}

// listShops returns the active shops the actor may access.
func (h *Handler) listShops(w http.ResponseWriter, r *http.Request) {
	all, err := h.dir.ListActive(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	visible := make([]Shop, 0, len(all))
	for _, s := range all {
		if actor.CanAccessShop(s.ID) {
			visible = append(visible, s)
		}
	}
	httpx.JSON(w, http.StatusOK, visible)
}

func (h *Handler) getShop(w http.ResponseWriter, r *http.Request) {
	id, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	shop, err := h.dir.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shop)
}

type createShopRequest struct {
	Code    string `json:"code" validate:"required,max=20"`
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
}

func (h *Handler) createShop(w http.ResponseWriter, r *http.Request) {
	var req createShopRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	shop, err := h.dir.Create(r.Context(), Shop{Code: req.Code, Name: req.Name, Address: req.Address})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, shop)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	if _, err := h.dir.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	settings, err := h.dir.Settings(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, settings)
}

type settingsRequest struct {
	POSBarcodeEnabled bool   `json:"pos_barcode_enabled"`
	OrderNumberPrefix string `json:"order_number_prefix" validate:"max=10"`
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.shopParam(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !httpx.Bind(w, r, h.validator, &req) {
		return
	}
	settings := Settings{ShopID: id, POSBarcodeEnabled: req.POSBarcodeEnabled, OrderNumberPrefix: req.OrderNumberPrefix}
	if err := h.dir.SaveSettings(r.Context(), settings); err != nil {
		h.writeError(w, err)
		return
	}
	saved, err := h.dir.Settings(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
