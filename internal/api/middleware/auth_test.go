package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/auth"
	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdentity(role string) auth.Identity {
	return auth.Identity{
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		Email:          "test@example.com",
		Role:           role,
	}
}

func TestAuth_ValidToken_AuthorizationHeader(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)

	id := newIdentity("owner")
	id.PlatformRole = "admin"
	token, err := jwtService.GenerateToken(id)
	require.NoError(t, err)

	handler := Auth(jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, id.UserID, GetUserID(r.Context()))
		assert.Equal(t, id.OrganizationID, GetOrganizationID(r.Context()))
		assert.Equal(t, id.Email, GetUserEmail(r.Context()))
		assert.Equal(t, id.Role, GetUserRole(r.Context()))
		assert.Equal(t, "admin", GetPlatformRole(r.Context()))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestAuth_ValidToken_XAuthTokenHeader(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)

	id := newIdentity("member")
	token, err := jwtService.GenerateToken(id)
	require.NoError(t, err)

	handler := Auth(jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, id.UserID, GetUserID(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("X-Auth-Token", token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_CookieIsIgnored(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)

	token, err := jwtService.GenerateToken(newIdentity("owner"))
	require.NoError(t, err)

	handler := Auth(jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/api/v1/billing/subscription", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_NoToken(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)

	handler := Auth(jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Accept", "text/html")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Unauthorized")
}

func TestAuth_InvalidToken(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)

	handler := Auth(jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer invalid-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ExpiredToken(t *testing.T) {
	// Create service with 1 nanosecond expiration
	jwtService := auth.NewJWTService("test-secret", 1*time.Nanosecond)

	token, err := jwtService.GenerateToken(newIdentity("owner"))
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	handler := Auth(jwtService)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called for expired token")
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_TokenFromDifferentSecret(t *testing.T) {
	jwtService1 := auth.NewJWTService("secret-1", 24*time.Hour)
	jwtService2 := auth.NewJWTService("secret-2", 24*time.Hour)

	token, err := jwtService1.GenerateToken(newIdentity("owner"))
	require.NoError(t, err)

	handler := Auth(jwtService2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called for token with different secret")
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetters_NotInContext(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, uuid.Nil, GetUserID(ctx))
	assert.Equal(t, uuid.Nil, GetOrganizationID(ctx))
	assert.Equal(t, "", GetUserEmail(ctx))
	assert.Equal(t, "", GetUserRole(ctx))
	assert.Equal(t, "", GetPlatformRole(ctx))
	assert.Equal(t, entitlement.Actor{}, GetActor(ctx))
}

func TestGetActor_FromIdentity(t *testing.T) {
	id := newIdentity("billing-manager")
	id.PlatformRole = "user"

	actor := GetActor(WithIdentity(context.Background(), id))

	assert.Equal(t, entitlement.Actor{
		UserID:         id.UserID,
		OrganizationID: id.OrganizationID,
		Role:           "billing-manager",
		PlatformRole:   "user",
	}, actor)
}
