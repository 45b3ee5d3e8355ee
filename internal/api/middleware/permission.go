package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/hugh/go-tenant/internal/entitlement"
)

// Authorizer decides whether an actor may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req entitlement.Request) error
}

// RequirePermission lets the request through only when the caller holds
// feature:action. Denials are 403; a failed lookup is 500 so that it is
// never mistaken for a denial.
func RequirePermission(authz Authorizer, feature, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := authz.Authorize(r.Context(), entitlement.Request{
				Actor:   GetActor(r.Context()),
				Feature: feature,
				Action:  action,
			})
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, entitlement.ErrUnauthorized):
				writeJSONError(w, http.StatusForbidden, "Forbidden")
			default:
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			}
		})
	}
}
