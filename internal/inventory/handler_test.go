package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
)

func newTestRouter(f *fixture, actor *shared.Actor) http.Handler {
	h := NewHandler(nil, f.svc, NewAdvisor(f.store, nil, nil), rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if actor != nil {
				req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func technician(shopIDs ...int64) *shared.Actor {
	return &shared.Actor{
		UserID:      7,
		Role:        rbac.RoleTechnician,
		Permissions: []string{rbac.PermViewItem, rbac.PermViewStock, rbac.PermAddMovement},
		ShopIDs:     shopIDs,
	}
}

func TestHandlerMovementLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	item := f.item(t, "HTTP-001")
	router := newTestRouter(f, technician(f.shopA.ID))

	rec := doJSON(t, router, http.MethodPost, "/movements", map[string]any{
		"shop_id": f.shopA.ID, "item_id": item.ID, "movement_type": "receipt", "quantity": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var mv Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mv))
	require.Equal(t, int64(3), mv.QuantityAfter)
	require.Equal(t, int64(7), mv.CreatedBy)

	rec = doJSON(t, router, http.MethodPost, "/movements", map[string]any{
		"shop_id": f.shopA.ID, "item_id": item.ID, "movement_type": "shipment", "quantity": 5,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient stock")
	require.Equal(t, int64(3), f.balance(t, f.shopA.ID, item.ID).Quantity)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/movements?item_id=%d", item.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
}

func TestHandlerEnforcesShopAndPermissions(t *testing.T) {
	f := newFixture(t, nil)
	item := f.item(t, "HTTP-002")
	body := map[string]any{"shop_id": f.shopB.ID, "item_id": item.ID, "movement_type": "receipt", "quantity": 1}

	rec := doJSON(t, newTestRouter(f, technician(f.shopA.ID)), http.MethodPost, "/movements", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	cashier := &shared.Actor{UserID: 8, Permissions: []string{rbac.PermViewItem}, ShopIDs: []int64{f.shopB.ID}}
	rec = doJSON(t, newTestRouter(f, cashier), http.MethodPost, "/movements", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, newTestRouter(f, nil), http.MethodPost, "/movements", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	director := &shared.Actor{UserID: 1, Director: true, Permissions: []string{rbac.PermAddMovement}}
	rec = doJSON(t, newTestRouter(f, director), http.MethodPost, "/movements", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestHandlerScanAndValidation(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f, technician(f.shopA.ID))

	rec := doJSON(t, router, http.MethodPost, "/barcode/scan", map[string]any{"barcode": "0000", "shop_id": f.shopA.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var payload ScanPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.False(t, payload.Found)
	require.Len(t, f.store.ScanEvents(), 1)

	rec = doJSON(t, router, http.MethodPost, "/movements", map[string]any{"shop_id": f.shopA.ID, "movement_type": "receipt", "quantity": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/items/999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
