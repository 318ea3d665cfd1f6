package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/miazigoo/RepireCRM/internal/rbac"
	"github.com/miazigoo/RepireCRM/internal/shared"
)

func newTestService(t *testing.T) (*Service, *MemoryRepository, User) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := NewMemoryRepository()
	user := repo.Add(User{
		Username:     "anna",
		PasswordHash: string(hash),
		Role:         rbac.RoleCashier,
		ShopIDs:      []int64{4},
		IsActive:     true,
	})
	svc := NewService(repo, rbac.NewService(rbac.DefaultRoles()), Config{Secret: "test-secret", TTL: time.Hour})
	return svc, repo, user
}

func TestLoginAndVerify(t *testing.T) {
	svc, _, user := newTestService(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "anna", "s3cret-pass")
	require.NoError(t, err)
	require.Equal(t, "Bearer", token.TokenType)

	actor, err := svc.Verify(ctx, token.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, actor.UserID)
	require.True(t, actor.HasPermission(rbac.PermAddSale))
	require.False(t, actor.HasPermission(rbac.PermAddPurchaseOrder))
	require.True(t, actor.CanAccessShop(4))
	require.False(t, actor.CanAccessShop(5))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, repo, user := newTestService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "anna", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "bob", "s3cret-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	repo.SetActive(user.ID, false)
	_, err = svc.Login(ctx, "anna", "s3cret-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyRejectsTamperedExpiredAndDeactivated(t *testing.T) {
	svc, repo, user := newTestService(t)
	ctx := context.Background()

	other := NewService(repo, nil, Config{Secret: "other-secret"})
	forged, err := other.IssueToken(user)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, forged.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	old := svc.now
	svc.now = func() time.Time { return old().Add(-2 * time.Hour) }
	expired, err := svc.IssueToken(user)
	require.NoError(t, err)
	svc.now = old
	_, err = svc.Verify(ctx, expired.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.RegisteredClaims{Subject: "1", Issuer: "repaircrm"})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(ctx, unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)

	valid, err := svc.IssueToken(user)
	require.NoError(t, err)
	repo.SetActive(user.ID, false)
	_, err = svc.Verify(ctx, valid.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenEndpointAndMiddleware(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	h.MountRoutes(r)
	r.With(h.Middleware).Get("/whoami", func(w http.ResponseWriter, req *http.Request) {
		actor, ok := shared.ActorFromContext(req.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"username": actor.Username})
	})

	body, _ := json.Marshal(map[string]string{"username": "anna", "password": "s3cret-pass"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var token Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "anna")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body, _ = json.Marshal(map[string]string{"username": "anna", "password": "not-the-one"})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
