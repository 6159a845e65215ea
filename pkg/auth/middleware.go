package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethpandaops/jenkdash/pkg/store"
)

type contextKey string

const userContextKey contextKey = "user"

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "session"

// LocalOperator is attached to requests when no auth method is configured.
var LocalOperator = &store.User{
	ID:           "local",
	Username:     "local",
	Role:         store.RoleAdmin,
	AuthProvider: store.AuthProviderBasic,
}

// UserFromContext retrieves the authenticated user from the context.
func UserFromContext(ctx context.Context) *store.User {
	user, ok := ctx.Value(userContextKey).(*store.User)
	if !ok {
		return nil
	}

	return user
}

// ContextWithUser adds a user to the context.
func ContextWithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// Middleware rejects requests without a valid session token.
func Middleware(authSvc Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			user, err := authSvc.ValidateSession(r.Context(), token)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// OpenMiddleware treats every request as the local operator.
func OpenMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), LocalOperator)))
		})
	}
}

// RequireRole rejects users that do not hold role.
func RequireRole(role store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			if !hasRole(user, role) {
				http.Error(w, "Forbidden", http.StatusForbidden)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects non-admin users.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(store.RoleAdmin)
}

// ExtractToken reads the session token from the Authorization header, the
// session cookie or the token query parameter, in that order. The query
// parameter exists for websocket clients.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}

	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return r.URL.Query().Get("token")
}
