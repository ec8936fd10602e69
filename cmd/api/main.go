package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/el7lm/smartlogin/internal/auth"
	"github.com/el7lm/smartlogin/internal/background"
	"github.com/el7lm/smartlogin/internal/config"
	"github.com/el7lm/smartlogin/internal/database"
	"github.com/el7lm/smartlogin/internal/events"
	"github.com/el7lm/smartlogin/internal/handlers"
	middlewareCustom "github.com/el7lm/smartlogin/internal/middleware"
	"github.com/el7lm/smartlogin/internal/repositories"
	"github.com/el7lm/smartlogin/internal/routes"
	"github.com/el7lm/smartlogin/internal/services"
	pkghttp "github.com/el7lm/smartlogin/pkg/http"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// profileStore is what both profile backends provide.
type profileStore interface {
	services.SecurityProfileStore
	services.ProfileCreator
}

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	level.Set(parseLogLevel(cfg.Server.LogLevel))

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("profile_store", cfg.LoginSecurity.ProfileStore),
		slog.String("otp_sender", cfg.OTP.Sender))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(startupCtx); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)

	profiles, err := newProfileStore(startupCtx, cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize profile store", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := repositories.NewRedisClient(startupCtx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()
	otpChallengeRepo := repositories.NewOTPChallengeRepository(redisClient)

	otpSender, err := newOTPSender(startupCtx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize otp sender", slog.Any("error", err))
		os.Exit(1)
	}

	publisher := events.NewKafkaPublisher(cfg.Events, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close event publisher", slog.Any("error", err))
		}
	}()

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(revokeRepo, logger, cfg.Auth.CleanupInterval)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	failureDelay := auth.NewFailureDelay(cfg.Auth.FailureDelay, cfg.Auth.FailureDelayJitter)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Initialize services
	securityService := services.NewLoginSecurityService(
		profiles,
		services.SecurityPolicyFromConfig(cfg.LoginSecurity),
		publisher,
		auditLogger,
		logger,
	)
	otpService := services.NewOTPService(otpChallengeRepo, otpSender, cfg.OTP, auditLogger, logger)
	authService := services.NewAuthService(
		accountRepo,
		profiles,
		revokeRepo,
		securityService,
		otpService,
		tokenManager,
		failureDelay,
		logger,
		auditLogger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	securityHandler := handlers.NewSecurityHandler(securityService)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, securityHandler, routes.Config{
		TokenManager:      tokenManager,
		RevocationChecker: revokeRepo,
		AuthRateLimit:     middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRateLimit},
		FailClosed:        cfg.Server.Env == "production",
	})

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// newProfileStore picks the security profile backend named by PROFILE_STORE.
func newProfileStore(ctx context.Context, cfg *config.Config, db *database.DB, logger *slog.Logger) (profileStore, error) {
	switch cfg.LoginSecurity.ProfileStore {
	case config.ProfileStoreDynamoDB:
		client, err := repositories.NewDynamoDBClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		logger.Info("using dynamodb profile store", slog.String("table", cfg.DynamoDB.TableName))
		return repositories.NewDynamoProfileRepository(client, cfg.DynamoDB.TableName, logger), nil
	case config.ProfileStorePostgres:
		return repositories.NewProfileRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown profile store %q", cfg.LoginSecurity.ProfileStore)
	}
}

// newOTPSender picks the OTP delivery channel named by OTP_SENDER.
func newOTPSender(ctx context.Context, cfg *config.Config, logger *slog.Logger) (services.OTPSender, error) {
	switch cfg.OTP.Sender {
	case config.OTPSenderSES:
		sender, err := services.NewSESOTPSender(ctx, cfg.Email.Region, cfg.Email.FromAddress, logger)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case config.OTPSenderLog:
		if cfg.Server.Env == "production" {
			logger.Warn("log otp sender in production, codes will not be delivered")
		}
		return services.NewLogOTPSender(logger, cfg.Server.Env), nil
	default:
		return nil, fmt.Errorf("unknown otp sender %q", cfg.OTP.Sender)
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
