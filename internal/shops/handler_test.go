package shops

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
)

func newShopRouter(dir *Directory, actor shared.Actor) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	NewHandler(nil, dir, rbac.Middleware{}).MountRoutes(r)
	return r
}

func send(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHandlerListsOnlyAccessibleShops(t *testing.T) {
	dir := NewDirectory(NewMemoryRepository())
	ctx := context.Background()
	a, err := dir.Create(ctx, Shop{Code: "A1", Name: "A"})
	require.NoError(t, err)
	_, err = dir.Create(ctx, Shop{Code: "B1", Name: "B"})
	require.NoError(t, err)

	router := newShopRouter(dir, shared.Actor{UserID: 1, Permissions: []string{rbac.PermViewShops}, ShopIDs: []int64{a.ID}})
	rec := send(t, router, http.MethodGet, "/shops", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var shops []Shop
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shops))
	require.Len(t, shops, 1)
	require.Equal(t, "A1", shops[0].Code)

	rec = send(t, router, http.MethodGet, "/shops/2", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(t, router, http.MethodPost, "/shops", map[string]string{"code": "c1", "name": "C"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerSettingsRoundTrip(t *testing.T) {
	dir := NewDirectory(NewMemoryRepository())
	router := newShopRouter(dir, shared.Actor{UserID: 1, Superuser: true})

	rec := send(t, router, http.MethodPost, "/shops", map[string]string{"code": "c1", "name": "Central"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var shop Shop
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shop))
	require.Equal(t, "C1", shop.Code)

	rec = send(t, router, http.MethodGet, "/shops/1/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var settings Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	require.False(t, settings.POSBarcodeEnabled)

	rec = send(t, router, http.MethodPut, "/shops/1/settings", map[string]any{"pos_barcode_enabled": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	require.True(t, settings.POSBarcodeEnabled)

	rec = send(t, router, http.MethodGet, "/shops/42/settings", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(t, router, http.MethodPost, "/shops", map[string]string{"code": "C1", "name": "Dup"})
	require.Equal(t, http.StatusConflict, rec.Code)
}
