package routes

import (
	"github.com/el7lm/smartlogin/internal/auth"
	"github.com/el7lm/smartlogin/internal/handlers"
	"github.com/el7lm/smartlogin/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// Config carries what the route table needs besides the handlers.
type Config struct {
	TokenManager      *auth.TokenManager
	RevocationChecker auth.TokenRevocationChecker
	AuthRateLimit     middleware.RateLimitConfig
	// Reject authenticated requests when the revocation store is down
	FailClosed bool
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	securityHandler *handlers.SecurityHandler,
	cfg Config,
) {
	// Public routes - no authentication required, limited per IP
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(cfg.AuthRateLimit))

		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login/check", authHandler.CheckLogin)
		r.Post("/auth/otp/send", authHandler.SendOTP)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.RefreshToken)
		r.Post("/auth/password/strength", securityHandler.PasswordStrength)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(cfg.TokenManager, cfg.RevocationChecker, auth.RevocationConfig{FailClosed: cfg.FailClosed}))
		r.Use(middleware.RateLimitByAccount(middleware.RateLimitConfig{RequestsPerMinute: 60}))

		r.Post("/auth/logout", authHandler.Logout)
		r.Get("/security/profile", securityHandler.GetProfile)
		r.Put("/security/otp-preference", securityHandler.SetOTPPreference)
	})
}
