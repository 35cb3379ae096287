package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nmamano/wallgame-broker/internal/authbridge"
)

type contextKey string

const ClaimsContextKey contextKey = "authClaims"

// AuthMiddleware validates bearer tokens issued by the external auth
// provider (spec.md §1 Non-goals) and attaches the resulting claims to
// the request context. There is no local user store to load against —
// the claims themselves are the identity.
type AuthMiddleware struct {
	validator *authbridge.Validator
}

func NewAuthMiddleware(validator *authbridge.Validator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// RequireAuth validates the bearer token and loads claims into context.
// Returns 401 if the token is missing or invalid.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.validator.ValidateAccessToken(tokenString)
		if err != nil {
			if err == authbridge.ErrExpiredToken {
				http.Error(w, "Token has expired", http.StatusUnauthorized)
				return
			}
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth validates the bearer token if present, but lets the
// request continue without one — used by endpoints that allow both
// authenticated and anonymous players (friend matches, spectating).
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.validator.ValidateAccessToken(tokenString)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext retrieves the authenticated claims from the request
// context, if RequireAuth or OptionalAuth attached one.
func ClaimsFromContext(ctx context.Context) (*authbridge.AccessClaims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*authbridge.AccessClaims)
	return claims, ok
}
