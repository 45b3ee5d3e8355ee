package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/go-tenant/internal/auth"
	"github.com/hugh/go-tenant/internal/entitlement"
)

type contextKey string

const (
	UserIDKey         contextKey = "user_id"
	OrganizationIDKey contextKey = "organization_id"
	UserEmailKey      contextKey = "user_email"
	UserRoleKey       contextKey = "user_role"
	PlatformRoleKey   contextKey = "platform_role"
)

func Auth(tokens auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string

			// 1. Authorization header
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}

			// 2. X-Auth-Token header
			if token == "" {
				token = r.Header.Get("X-Auth-Token")
			}

			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity)))
		})
	}
}

// WithIdentity stores an authenticated identity on ctx.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id.UserID)
	ctx = context.WithValue(ctx, OrganizationIDKey, id.OrganizationID)
	ctx = context.WithValue(ctx, UserEmailKey, id.Email)
	ctx = context.WithValue(ctx, UserRoleKey, id.Role)
	ctx = context.WithValue(ctx, PlatformRoleKey, id.PlatformRole)
	return ctx
}

// Helper functions to extract values from context
func GetUserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(UserIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func GetOrganizationID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(OrganizationIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func GetUserEmail(ctx context.Context) string {
	if email, ok := ctx.Value(UserEmailKey).(string); ok {
		return email
	}
	return ""
}

func GetUserRole(ctx context.Context) string {
	if role, ok := ctx.Value(UserRoleKey).(string); ok {
		return role
	}
	return ""
}

func GetPlatformRole(ctx context.Context) string {
	if role, ok := ctx.Value(PlatformRoleKey).(string); ok {
		return role
	}
	return ""
}

// GetActor returns the caller as the entitlement resolver sees it.
func GetActor(ctx context.Context) entitlement.Actor {
	return entitlement.Actor{
		UserID:         GetUserID(ctx),
		OrganizationID: GetOrganizationID(ctx),
		Role:           GetUserRole(ctx),
		PlatformRole:   GetPlatformRole(ctx),
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
