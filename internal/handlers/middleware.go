package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/prudhvinik1/inboxsync/internal/cache"
	"github.com/prudhvinik1/inboxsync/internal/services"
	"github.com/rs/zerolog/log"
)

type contextKey int

const claimsKey contextKey = iota

// TokenVerifier is satisfied by services.AuthService.
type TokenVerifier interface {
	VerifyToken(tokenString string) (*services.TokenClaims, error)
}

// Authenticate requires a valid bearer token and stores its claims in the
// request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
				return
			}
			claims, err := verifier.VerifyToken(token)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFrom(ctx context.Context) *services.TokenClaims {
	claims, _ := ctx.Value(claimsKey).(*services.TokenClaims)
	return claims
}

func userIDFrom(r *http.Request) uuid.UUID {
	if claims := claimsFrom(r.Context()); claims != nil {
		return claims.UserID
	}
	return uuid.Nil
}

// RequireAdmin lets only accounts holding the admin role through. Must run
// after Authenticate.
func RequireAdmin(roles *cache.RoleCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFrom(r)
			isAdmin, err := roles.IsAdmin(r.Context(), userID)
			if err != nil {
				writeInternal(w, r, err)
				return
			}
			if !isAdmin {
				log.Warn().Str("user_id", userID.String()).Str("path", r.URL.Path).Msg("Admin access denied")
				writeError(w, r, http.StatusForbidden, "forbidden", "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
