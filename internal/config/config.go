package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Profile store backends
const (
	ProfileStorePostgres = "postgres"
	ProfileStoreDynamoDB = "dynamodb"
)

// OTP senders
const (
	OTPSenderLog = "log"
	OTPSenderSES = "ses"
)

type Config struct {
	Database      DatabaseConfig
	Server        ServerConfig
	Auth          AuthConfig
	LoginSecurity LoginSecurityConfig
	OTP           OTPConfig
	Redis         RedisConfig
	DynamoDB      DynamoDBConfig
	Events        EventsConfig
	Email         EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	// Requests per minute per IP on public auth routes
	AuthRateLimit int
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
	// Minimum response time for failed logins, plus random jitter
	FailureDelay       time.Duration
	FailureDelayJitter time.Duration
}

// LoginSecurityConfig holds the thresholds the login security evaluator
// applies. Defaults: 3 successful logins before trust, 30 days absence,
// 3 failures within 60 minutes.
type LoginSecurityConfig struct {
	ProfileStore       string
	TrustThreshold     int
	LongAbsence        time.Duration
	SuspiciousWindow   time.Duration
	SuspiciousFailures int
}

type OTPConfig struct {
	Digits      int
	Expiry      time.Duration
	MaxAttempts int
	Sender      string
	Issuer      string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DynamoDBConfig struct {
	Region    string
	TableName string
	Endpoint  string
}

type EventsConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type EmailConfig struct {
	Region      string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "smartlogin"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AuthRateLimit:  getEnvAsInt("AUTH_RATE_LIMIT", 10),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			FailureDelay:       getEnvAsDuration("LOGIN_FAILURE_DELAY", 300*time.Millisecond),
			FailureDelayJitter: getEnvAsDuration("LOGIN_FAILURE_JITTER", 100*time.Millisecond),
		},
		LoginSecurity: LoginSecurityConfig{
			ProfileStore:       strings.ToLower(getEnv("PROFILE_STORE", ProfileStorePostgres)),
			TrustThreshold:     getEnvAsInt("LOGIN_TRUST_THRESHOLD", 3),
			LongAbsence:        getEnvAsDuration("LOGIN_LONG_ABSENCE", 30*24*time.Hour),
			SuspiciousWindow:   getEnvAsDuration("LOGIN_SUSPICIOUS_WINDOW", 60*time.Minute),
			SuspiciousFailures: getEnvAsInt("LOGIN_SUSPICIOUS_FAILURES", 3),
		},
		OTP: OTPConfig{
			Digits:      getEnvAsInt("OTP_DIGITS", 6),
			Expiry:      getEnvAsDuration("OTP_EXPIRY", 5*time.Minute),
			MaxAttempts: getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			Sender:      strings.ToLower(getEnv("OTP_SENDER", OTPSenderLog)),
			Issuer:      strings.TrimSpace(getEnv("OTP_ISSUER", "El7lm")),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		DynamoDB: DynamoDBConfig{
			Region:    getEnv("AWS_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE", "smartlogin-profiles"),
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
		},
		Events: EventsConfig{
			Enabled: getEnvAsBool("EVENTS_ENABLED", false),
			Brokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_SECURITY_TOPIC", "login-security-events"),
		},
		Email: EmailConfig{
			Region:      getEnv("SES_REGION", getEnv("AWS_REGION", "us-east-1")),
			FromAddress: getEnv("SES_FROM_ADDRESS", "no-reply@el7lm.com"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.LoginSecurity.validate(); err != nil {
		return nil, err
	}

	if err := cfg.OTP.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *LoginSecurityConfig) validate() error {
	switch c.ProfileStore {
	case ProfileStorePostgres, ProfileStoreDynamoDB:
	default:
		return fmt.Errorf("PROFILE_STORE must be %q or %q (got %q)", ProfileStorePostgres, ProfileStoreDynamoDB, c.ProfileStore)
	}
	if c.TrustThreshold < 1 {
		return fmt.Errorf("LOGIN_TRUST_THRESHOLD must be positive")
	}
	if c.LongAbsence <= 0 || c.SuspiciousWindow <= 0 {
		return fmt.Errorf("LOGIN_LONG_ABSENCE and LOGIN_SUSPICIOUS_WINDOW must be positive")
	}
	if c.SuspiciousFailures < 1 {
		return fmt.Errorf("LOGIN_SUSPICIOUS_FAILURES must be positive")
	}
	return nil
}

func (c *OTPConfig) validate() error {
	if c.Digits != 6 && c.Digits != 8 {
		return fmt.Errorf("OTP_DIGITS must be 6 or 8")
	}
	if c.Expiry < 30*time.Second {
		return fmt.Errorf("OTP_EXPIRY must be at least 30s")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive")
	}
	if c.Issuer == "" {
		return fmt.Errorf("OTP_ISSUER must not be blank")
	}
	switch c.Sender {
	case OTPSenderLog, OTPSenderSES:
	default:
		return fmt.Errorf("OTP_SENDER must be %q or %q", OTPSenderLog, OTPSenderSES)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS", []string{})
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
