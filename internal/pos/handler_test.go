package pos

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
)

func newTestRouter(f *fixture, actor shared.Actor) http.Handler {
	h := NewHandler(nil, f.svc, rbac.Middleware{})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func cashier(perms []string, shopIDs ...int64) shared.Actor {
	return shared.Actor{UserID: 9, Role: rbac.RoleCashier, Permissions: perms, ShopIDs: shopIDs}
}

func TestHandlerSaleFlow(t *testing.T) {
	f := newFixture(t)
	item := f.stockedItem(t, "A", "100", 5)
	router := newTestRouter(f, cashier([]string{rbac.PermAddSale, rbac.PermChangeSale, rbac.PermAddPayment}, f.shop.ID))

	rec := doJSON(t, router, http.MethodPost, "/sales", map[string]any{"shop_id": f.shop.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sale Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/sales/%d/lines", sale.ID), map[string]any{"sku": "A", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodPut, fmt.Sprintf("/sales/%d/discount", sale.ID), map[string]any{"discount_amount": "500"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/sales/%d/finalize", sale.ID), map[string]any{"payment_method": "cash"},
		"Idempotency-Key", "not-a-uuid")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/sales/%d/finalize", sale.ID),
		map[string]any{"payment_method": "cash", "cash_register_id": f.register.ID}, "Idempotency-Key", uuid.NewString())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Sale    Sale `json:"sale"`
		Payment *struct {
			Amount string `json:"amount"`
		} `json:"payment"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, StatusCompleted, out.Sale.Status)
	require.NotNil(t, out.Payment)
	require.Equal(t, int64(3), f.onHand(t, item.ID))

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/sales/%d/lines", sale.ID), map[string]any{"sku": "A"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerPaymentNeedsPermission(t *testing.T) {
	f := newFixture(t)
	f.stockedItem(t, "A", "100", 5)
	router := newTestRouter(f, cashier([]string{rbac.PermAddSale}, f.shop.ID))

	rec := doJSON(t, router, http.MethodPost, "/sales", map[string]any{"shop_id": f.shop.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sale Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))
	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/sales/%d/lines", sale.ID), map[string]any{"sku": "A"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/sales/%d/finalize", sale.ID), map[string]any{"payment_method": "cash"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, fmt.Sprintf("/sales/%d/finalize", sale.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandlerShopScope(t *testing.T) {
	f := newFixture(t)
	owner := newTestRouter(f, cashier([]string{rbac.PermAddSale}, f.shop.ID))
	rec := doJSON(t, owner, http.MethodPost, "/sales", map[string]any{"shop_id": f.shop.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var sale Sale
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sale))

	stranger := newTestRouter(f, cashier([]string{rbac.PermAddSale}, f.shop.ID+100))
	rec = doJSON(t, stranger, http.MethodGet, fmt.Sprintf("/sales/%d", sale.ID), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = doJSON(t, stranger, http.MethodPost, "/sales", map[string]any{"shop_id": f.shop.ID})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, owner, http.MethodGet, "/sales/9999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
