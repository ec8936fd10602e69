package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/el7lm/smartlogin/internal/auth"
	"github.com/el7lm/smartlogin/internal/models"
	pkgauth "github.com/el7lm/smartlogin/pkg/auth"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
)

// AccountRepository defines the account storage operations AuthService needs
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByPhone(ctx context.Context, phone string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Delete(ctx context.Context, id string) error
}

// ProfileCreator creates the security profile for a newly registered phone.
type ProfileCreator interface {
	Create(ctx context.Context, profile *models.SecurityProfile) error
}

// TokenRevocationRepository defines the interface for token revocation operations
type TokenRevocationRepository interface {
	RevokeToken(ctx context.Context, jti, accountID, tokenType string, expiresAt time.Time, reason string) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// LoginSecurity is the part of LoginSecurityService the login flow uses.
type LoginSecurity interface {
	Decide(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision
	RecordAttempt(ctx context.Context, phone string, success bool, deviceFingerprint, ipAddress string)
	MarkPhoneVerified(ctx context.Context, phone string)
}

// OTPIssuer issues and verifies one-time codes.
type OTPIssuer interface {
	Issue(ctx context.Context, recipient OTPRecipient) (*models.OTPChallenge, error)
	Verify(ctx context.Context, phone, code string) error
}

// OTPRequiredError is returned by Login when the password was accepted but
// the security decision demands a one-time code that was not supplied.
type OTPRequiredError struct {
	Decision models.LoginSecurityDecision
}

func (e *OTPRequiredError) Error() string {
	return fmt.Sprintf("otp required: %s", e.Decision.Reason)
}

func (e *OTPRequiredError) Unwrap() error {
	return models.ErrOTPRequired
}

// RegisterInput carries the fields for creating an account.
type RegisterInput struct {
	Phone    string
	Password string
	Name     string
	Email    string
}

// LoginInput carries one login attempt.
type LoginInput struct {
	Phone             string
	Password          string
	OTPCode           string
	DeviceFingerprint string
	IPAddress         string
}

// AuthService handles registration, adaptive login and token lifecycle
type AuthService struct {
	accounts    AccountRepository
	profiles    ProfileCreator
	revokeRepo  TokenRevocationRepository
	security    LoginSecurity
	otp         OTPIssuer
	tm          *auth.TokenManager
	delay       *auth.FailureDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewAuthService(
	accounts AccountRepository,
	profiles ProfileCreator,
	revokeRepo TokenRevocationRepository,
	security LoginSecurity,
	otp OTPIssuer,
	tm *auth.TokenManager,
	delay *auth.FailureDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		accounts:    accounts,
		profiles:    profiles,
		revokeRepo:  revokeRepo,
		security:    security,
		otp:         otp,
		tm:          tm,
		delay:       delay,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Register creates an account and its initial security profile. The first
// logins of a new account always require an OTP, so no tokens are issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.AccountResponse, error) {
	phone := NormalizePhone(in.Phone)
	name := strings.TrimSpace(in.Name)
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if phone == "" {
		return nil, fmt.Errorf("phone is required: %w", models.ErrBadRequest)
	}

	if strength := pkgauth.ValidatePasswordStrength(in.Password); !strength.IsStrong {
		return nil, models.ErrWeakPassword
	}
	if len(in.Password) > pkgauth.MaxPasswordLen {
		return nil, fmt.Errorf("password longer than %d bytes: %w", pkgauth.MaxPasswordLen, models.ErrBadRequest)
	}

	hashedPassword, err := pkgauth.HashPassword(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	account := &models.Account{
		Phone:        phone,
		Name:         name,
		PasswordHash: hashedPassword,
		Status:       models.AccountStatusActive,
	}
	if email != "" {
		account.Email = &email
	}

	created, err := s.accounts.Create(ctx, account)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration failed: phone already registered")
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create account", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.profiles.Create(ctx, models.NewSecurityProfile(phone, created.CreatedAt)); err != nil && !errors.Is(err, models.ErrConflict) {
		s.logger.Error("failed to create security profile, rolling back account",
			slog.String("account_id", created.ID),
			slog.Any("error", err))
		if delErr := s.accounts.Delete(ctx, created.ID); delErr != nil {
			s.logger.Error("failed to roll back account", slog.String("account_id", created.ID), slog.Any("error", delErr))
		}
		return nil, models.ErrInternalServer
	}

	s.logger.Info("account registered", slog.String("account_id", created.ID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventRegister,
		Phone:     phone,
		AccountID: created.ID,
		Success:   true,
	})

	return created.ToResponse(), nil
}

// CheckLogin reports what the next login for phone on this device needs.
func (s *AuthService) CheckLogin(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision {
	return s.security.Decide(ctx, NormalizePhone(phone), deviceFingerprint, ipAddress)
}

// RequestOTP issues a code when the security decision calls for one. The
// decision is returned whether or not the phone belongs to an account so
// the response does not reveal registration.
func (s *AuthService) RequestOTP(ctx context.Context, phone, deviceFingerprint, ipAddress string) (models.LoginSecurityDecision, error) {
	phone = NormalizePhone(phone)
	decision := s.security.Decide(ctx, phone, deviceFingerprint, ipAddress)
	if !decision.OTPRequired {
		return decision, nil
	}

	account, err := s.accounts.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("otp requested for unknown phone")
			return decision, nil
		}
		s.logger.Error("failed to load account for otp", slog.Any("error", err))
		return decision, models.ErrInternalServer
	}
	if !account.IsActive() {
		return decision, nil
	}

	recipient := OTPRecipient{Phone: phone}
	if account.Email != nil {
		recipient.Email = *account.Email
	}

	if _, err := s.otp.Issue(ctx, recipient); err != nil {
		s.logger.Error("failed to issue otp", slog.String("account_id", account.ID), slog.Any("error", err))
		if errors.Is(err, models.ErrBadRequest) {
			return decision, err
		}
		return decision, models.ErrInternalServer
	}

	return decision, nil
}

// Login authenticates a password, and a one-time code when the security
// decision requires it, then records the outcome on the profile.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*models.AuthResponse, error) {
	start := time.Now()
	phone := NormalizePhone(in.Phone)
	if phone == "" {
		s.delay.Pad(ctx, start)
		return nil, models.ErrUnauthorized
	}

	decision := s.security.Decide(ctx, phone, in.DeviceFingerprint, in.IPAddress)

	account, err := s.accounts.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.failLogin(ctx, start, phone, "", in, "invalid_credentials", false)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get account by phone", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !account.IsActive() {
		s.failLogin(ctx, start, phone, account.ID, in, "account_disabled", false)
		return nil, models.ErrAccountDisabled
	}

	if err := pkgauth.ComparePassword(account.PasswordHash, in.Password); err != nil {
		s.failLogin(ctx, start, phone, account.ID, in, "invalid_credentials", true)
		return nil, models.ErrUnauthorized
	}

	if decision.OTPRequired {
		code := strings.TrimSpace(in.OTPCode)
		if code == "" {
			return nil, &OTPRequiredError{Decision: decision}
		}

		if err := s.otp.Verify(ctx, phone, code); err != nil {
			switch {
			case errors.Is(err, models.ErrOTPInvalid),
				errors.Is(err, models.ErrOTPExpired),
				errors.Is(err, models.ErrOTPAttemptsExceeded):
				s.failLogin(ctx, start, phone, account.ID, in, "invalid_otp", true)
				return nil, err
			default:
				s.logger.Error("failed to verify otp", slog.String("account_id", account.ID), slog.Any("error", err))
				return nil, models.ErrInternalServer
			}
		}
		s.security.MarkPhoneVerified(ctx, phone)
	}

	s.security.RecordAttempt(ctx, phone, true, in.DeviceFingerprint, in.IPAddress)

	resp, err := s.issueTokens(account)
	if err != nil {
		return nil, err
	}
	resp.Decision = &decision

	s.logger.Info("account logged in",
		slog.String("account_id", account.ID),
		slog.String("method", string(decision.Method)))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogin,
		Phone:     phone,
		AccountID: account.ID,
		IPAddress: in.IPAddress,
		Device:    in.DeviceFingerprint,
		Success:   true,
		Metadata:  map[string]string{"method": string(decision.Method), "reason": string(decision.Reason)},
	})

	return resp, nil
}

// failLogin audits a rejected login, records it on the profile when the
// phone is known, and pads the response time.
func (s *AuthService) failLogin(ctx context.Context, start time.Time, phone, accountID string, in LoginInput, reason string, record bool) {
	if record {
		s.security.RecordAttempt(ctx, phone, false, in.DeviceFingerprint, in.IPAddress)
	}
	s.logger.Info("login failed", slog.String("reason", reason))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventLogin,
		Phone:         phone,
		AccountID:     accountID,
		IPAddress:     in.IPAddress,
		Device:        in.DeviceFingerprint,
		Success:       false,
		FailureReason: reason,
	})
	s.delay.Pad(ctx, start)
}

// RefreshToken rotates a refresh token into a new token pair
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*models.AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeRefresh {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("account_id", claims.AccountID))
		return nil, models.ErrUnauthorized
	}

	revoked, err := s.revokeRepo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		s.logger.Error("failed to check refresh token revocation", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if revoked {
		s.logger.Warn("refresh attempt with revoked token", slog.String("account_id", claims.AccountID))
		return nil, models.ErrUnauthorized
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get account for token refresh", slog.String("account_id", claims.AccountID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !account.IsActive() {
		return nil, models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeToken(ctx, claims.ID, account.ID, claims.Type, claims.ExpiresAt.Time, "rotated"); err != nil {
		s.logger.Error("failed to revoke rotated refresh token", slog.String("jti", claims.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("account_id", account.ID))
	return s.issueTokens(account)
}

// Logout revokes the access token and, when given, the refresh token.
func (s *AuthService) Logout(ctx context.Context, accessClaims *models.TokenClaims, refreshTokenString string) error {
	if accessClaims == nil {
		return models.ErrUnauthorized
	}

	if err := s.revokeRepo.RevokeToken(ctx, accessClaims.ID, accessClaims.AccountID, accessClaims.Type, accessClaims.ExpiresAt.Time, "logout"); err != nil {
		s.logger.Error("failed to revoke token", slog.String("jti", accessClaims.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString != "" {
		refreshClaims, err := s.tm.ValidateToken(refreshTokenString)
		if err == nil && refreshClaims.Type == models.TokenTypeRefresh && refreshClaims.AccountID == accessClaims.AccountID {
			if err := s.revokeRepo.RevokeToken(ctx, refreshClaims.ID, refreshClaims.AccountID, refreshClaims.Type, refreshClaims.ExpiresAt.Time, "logout"); err != nil {
				s.logger.Error("failed to revoke refresh token", slog.String("jti", refreshClaims.ID), slog.Any("error", err))
				return models.ErrInternalServer
			}
		}
	}

	s.logger.Info("account logged out", slog.String("account_id", accessClaims.AccountID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogout,
		Phone:     accessClaims.Phone,
		AccountID: accessClaims.AccountID,
		Success:   true,
	})
	return nil
}

func (s *AuthService) issueTokens(account *models.Account) (*models.AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(account.ID, account.Phone)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(account.ID, account.Phone)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &models.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.tm.AccessTokenExpiry().Seconds()),
		Account:      account.ToResponse(),
	}, nil
}
