package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pressdeck/api/internal/platform/httpx"
)

// UserIDHeader carries the caller identity. Verification happens upstream at
// the gateway; by the time a request reaches this service the header is
// trusted and treated as an opaque identifier.
const UserIDHeader = "X-User-ID"

type contextKey string

const userContextKey contextKey = "github.com/pressdeck/api/internal/platform/auth/user"

// WithUserID stores the caller identity within the context for downstream handlers.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

// UserID retrieves the caller identity previously stored in context.
func UserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

// IdentityMiddleware extracts the user header and stores it on the context.
// Requests without the header pass through; RequireUser guards the routes
// that need one.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
			if userID != "" {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects requests that arrived without a caller identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserID(r.Context()); !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "user identity required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}
