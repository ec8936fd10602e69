package middleware

import (
	"net/http"
	"time"

	"github.com/el7lm/smartlogin/internal/auth"
	pkghttp "github.com/el7lm/smartlogin/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for public auth endpoints (10 requests per minute)
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

// RateLimitByAccount limits authenticated requests per account, falling
// back to the client IP when no claims are in the context.
func RateLimitByAccount(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(accountKey),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

func accountKey(r *http.Request) (string, error) {
	if claims := auth.GetUserFromContext(r); claims != nil && claims.AccountID != "" {
		return "account:" + claims.AccountID, nil
	}
	ip, err := httprate.KeyByRealIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests")
}
