//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/el7lm/smartlogin/internal/auth"
	"github.com/el7lm/smartlogin/internal/config"
	"github.com/el7lm/smartlogin/internal/database"
	"github.com/el7lm/smartlogin/internal/handlers"
	middlewareCustom "github.com/el7lm/smartlogin/internal/middleware"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/el7lm/smartlogin/internal/repositories"
	"github.com/el7lm/smartlogin/internal/routes"
	"github.com/el7lm/smartlogin/internal/services"
	pkgauth "github.com/el7lm/smartlogin/pkg/auth"
	pkghttp "github.com/el7lm/smartlogin/pkg/http"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
)

// CapturingOTPSender records delivered codes for test assertions
type CapturingOTPSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *CapturingOTPSender) Channel() string { return models.OTPChannelSMS }

func (s *CapturingOTPSender) SendOTP(ctx context.Context, recipient services.OTPRecipient, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[recipient.Phone] = code
	return nil
}

// LastCode returns the most recent code sent to phone
func (s *CapturingOTPSender) LastCode(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

// TestServer wraps httptest.Server with database, redis and all dependencies
type TestServer struct {
	Server    *httptest.Server
	DB        *database.DB
	OTPSender *CapturingOTPSender
	Config    *config.Config
}

// NewTestServer wires the production route table against a real Postgres
// and Redis, with OTP codes captured instead of delivered
func NewTestServer(db *database.DB, redisClient *redis.Client) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:          "test-secret-32-characters-long-for-testing",
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			FailureDelay:       10 * time.Millisecond,
			FailureDelayJitter: 5 * time.Millisecond,
		},
		LoginSecurity: config.LoginSecurityConfig{
			ProfileStore:       config.ProfileStorePostgres,
			TrustThreshold:     3,
			LongAbsence:        30 * 24 * time.Hour,
			SuspiciousWindow:   60 * time.Minute,
			SuspiciousFailures: 3,
		},
		OTP: config.OTPConfig{
			Digits:      6,
			Expiry:      5 * time.Minute,
			MaxAttempts: 5,
			Sender:      config.OTPSenderLog,
			Issuer:      "El7lmTest",
		},
		Server: config.ServerConfig{
			Port:          "0",
			Env:           "test",
			AuthRateLimit: 1000,
		},
	}

	accountRepo := repositories.NewAccountRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	profileRepo := repositories.NewProfileRepository(db)
	otpRepo := repositories.NewOTPChallengeRepository(redisClient)
	sender := &CapturingOTPSender{}

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.RefreshTokenExpiry)
	auditLogger := pkglogger.NewAuditLogger(logger)

	securityService := services.NewLoginSecurityService(
		profileRepo,
		services.SecurityPolicyFromConfig(cfg.LoginSecurity),
		nil,
		auditLogger,
		logger,
	)
	otpService := services.NewOTPService(otpRepo, sender, cfg.OTP, auditLogger, logger)
	authService := services.NewAuthService(
		accountRepo,
		profileRepo,
		revokeRepo,
		securityService,
		otpService,
		tokenManager,
		auth.NewFailureDelay(cfg.Auth.FailureDelay, cfg.Auth.FailureDelayJitter),
		logger,
		auditLogger,
	)

	ipConfig := &pkghttp.IPConfig{}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	securityHandler := handlers.NewSecurityHandler(securityService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, authHandler, securityHandler, routes.Config{
		TokenManager:      tokenManager,
		RevocationChecker: revokeRepo,
		AuthRateLimit:     middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRateLimit},
		FailClosed:        true,
	})

	return &TestServer{
		Server:    httptest.NewServer(r),
		DB:        db,
		OTPSender: sender,
		Config:    cfg,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server from device
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(pkgauth.DeviceFingerprintHeader, TestDevice)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
