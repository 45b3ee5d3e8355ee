package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hugh/go-tenant/internal/entitlement"
	"github.com/stretchr/testify/assert"
)

type authorizerFunc func(ctx context.Context, req entitlement.Request) error

func (f authorizerFunc) Authorize(ctx context.Context, req entitlement.Request) error {
	return f(ctx, req)
}

func TestRequirePermission(t *testing.T) {
	id := newIdentity("member")

	tests := []struct {
		name           string
		result         error
		expectedStatus int
	}{
		{"granted", nil, http.StatusOK},
		{"denied", entitlement.ErrUnauthorized, http.StatusForbidden},
		{"wrapped denial", errors.Join(errors.New("context"), entitlement.ErrUnauthorized), http.StatusForbidden},
		{"lookup failure", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen entitlement.Request
			authz := authorizerFunc(func(_ context.Context, req entitlement.Request) error {
				seen = req
				return tt.result
			})

			handler := RequirePermission(authz, "billing", "create")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("POST", "/api/v1/billing/checkout", nil)
			req = req.WithContext(WithIdentity(req.Context(), id))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, "billing", seen.Feature)
			assert.Equal(t, "create", seen.Action)
			assert.Equal(t, id.UserID, seen.Actor.UserID)
			assert.Equal(t, id.OrganizationID, seen.Actor.OrganizationID)
			assert.Equal(t, "member", seen.Actor.Role)
		})
	}
}
