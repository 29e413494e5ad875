package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/relaymesh/chatcore/internal/identity"
)

type contextKey string

const claimsContextKey contextKey = "chatcore.identity.claims"

// Auth verifies the bearer token with the identity verifier (C1) and
// stores the resulting claims on the request context. An
// X-Tenant-ID header, when present, overrides the token's tenant claim
// so platform-role callers can act on behalf of a specific tenant, per
// spec.md §6.3.
func Auth(verifier *identity.Verifier) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifyToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if override := r.Header.Get("X-Tenant-ID"); override != "" {
				claims.TenantID = override
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next(w, r.WithContext(ctx))
		}
	}
}

// ClaimsFromContext retrieves the identity claims Auth attached to the
// request context.
func ClaimsFromContext(ctx context.Context) (identity.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(identity.Claims)
	return claims, ok
}
