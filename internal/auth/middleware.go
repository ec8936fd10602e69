package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/el7lm/smartlogin/internal/models"
	pkghttp "github.com/el7lm/smartlogin/pkg/http"
)

type contextKey string

const (
	// UserContextKey is the key for storing token claims in context
	UserContextKey contextKey = "user"
)

// TokenRevocationChecker reports whether a token's JTI has been revoked.
type TokenRevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// RevocationConfig controls what happens when the revocation check errors.
type RevocationConfig struct {
	FailClosed bool
}

// AuthMiddleware validates bearer access tokens and stores the claims in
// the request context. Refresh tokens are rejected.
func AuthMiddleware(tm *TokenManager, revocationChecker TokenRevocationChecker, revocationConfig RevocationConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Missing or malformed authorization header")
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			if claims.Type != models.TokenTypeAccess {
				pkghttp.WriteUnauthorized(w, "Refresh tokens cannot be used for API access")
				return
			}

			if revocationChecker != nil {
				revoked, err := revocationChecker.IsTokenRevoked(r.Context(), claims.ID)
				if err != nil && revocationConfig.FailClosed {
					pkghttp.WriteError(w, http.StatusServiceUnavailable, "service_unavailable", "Unable to verify token status")
					return
				}
				if revoked {
					pkghttp.WriteUnauthorized(w, "Token has been revoked")
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetUserFromContext extracts token claims from the request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}
