package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/el7lm/smartlogin/internal/config"
	"github.com/el7lm/smartlogin/internal/models"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

// Each challenge has its own secret, so a single counter value is enough.
const challengeCounter = 1

const DefaultOTPIssuer = "El7lm"

// OTPChallengeStore keeps outstanding challenges until they expire. Get
// returns models.ErrNotFound when nothing is outstanding for phone.
type OTPChallengeStore interface {
	Save(ctx context.Context, challenge *models.OTPChallenge, ttl time.Duration) error
	Get(ctx context.Context, phone string) (*models.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	Delete(ctx context.Context, phone string) error
}

// OTPRecipient is where a code is delivered.
type OTPRecipient struct {
	Phone string
	Email string
}

// OTPSender delivers a code to the recipient.
type OTPSender interface {
	SendOTP(ctx context.Context, recipient OTPRecipient, code string, expiresAt time.Time) error
	Channel() string
}

type OTPService struct {
	store       OTPChallengeStore
	sender      OTPSender
	cfg         config.OTPConfig
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

// NewOTPService creates the challenge issuer. An empty cfg.Issuer falls back
// to DefaultOTPIssuer.
func NewOTPService(store OTPChallengeStore, sender OTPSender, cfg config.OTPConfig, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *OTPService {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultOTPIssuer
	}
	return &OTPService{
		store:       store,
		sender:      sender,
		cfg:         cfg,
		auditLogger: auditLogger,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *OTPService) digits() otp.Digits {
	if s.cfg.Digits == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}

// Issue creates a fresh challenge for the recipient's phone, replacing any
// outstanding one, and delivers the code.
func (s *OTPService) Issue(ctx context.Context, recipient OTPRecipient) (*models.OTPChallenge, error) {
	key, err := hotp.Generate(hotp.GenerateOpts{
		Issuer:      s.cfg.Issuer,
		AccountName: recipient.Phone,
		SecretSize:  20,
		Digits:      s.digits(),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp secret: %w", err)
	}

	code, err := hotp.GenerateCodeCustom(key.Secret(), challengeCounter, s.validateOpts())
	if err != nil {
		return nil, fmt.Errorf("failed to generate otp code: %w", err)
	}

	now := s.now()
	challenge := &models.OTPChallenge{
		Phone:     recipient.Phone,
		Secret:    key.Secret(),
		Channel:   s.sender.Channel(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	if err := s.store.Save(ctx, challenge, s.cfg.Expiry); err != nil {
		return nil, fmt.Errorf("failed to store otp challenge: %w", err)
	}

	if err := s.sender.SendOTP(ctx, recipient, code, challenge.ExpiresAt); err != nil {
		_ = s.store.Delete(ctx, recipient.Phone)
		return nil, fmt.Errorf("failed to deliver otp: %w", err)
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventOTPIssued,
		Phone:     recipient.Phone,
		Success:   true,
		Metadata:  map[string]string{"channel": challenge.Channel},
	})

	return challenge, nil
}

// Verify checks code against the outstanding challenge for phone. A correct
// code consumes the challenge.
func (s *OTPService) Verify(ctx context.Context, phone, code string) error {
	challenge, err := s.store.Get(ctx, phone)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrOTPExpired
	}
	if err != nil {
		return fmt.Errorf("failed to load otp challenge: %w", err)
	}

	if challenge.IsExpired(s.now()) {
		_ = s.store.Delete(ctx, phone)
		return models.ErrOTPExpired
	}

	if challenge.Attempts >= s.cfg.MaxAttempts {
		_ = s.store.Delete(ctx, phone)
		return models.ErrOTPAttemptsExceeded
	}

	valid, err := hotp.ValidateCustom(code, challengeCounter, challenge.Secret, s.validateOpts())
	if err != nil || !valid {
		attempts, incErr := s.store.IncrementAttempts(ctx, phone)
		if incErr != nil {
			s.logger.Error("failed to increment otp attempts",
				slog.String("phone", pkglogger.SanitizedPhone(phone)),
				slog.Any("error", incErr),
			)
		}
		s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventOTPVerified,
			Phone:         phone,
			Success:       false,
			FailureReason: "invalid_code",
		})
		if attempts >= s.cfg.MaxAttempts {
			_ = s.store.Delete(ctx, phone)
			return models.ErrOTPAttemptsExceeded
		}
		return models.ErrOTPInvalid
	}

	if err := s.store.Delete(ctx, phone); err != nil {
		s.logger.Warn("failed to delete consumed otp challenge",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Any("error", err),
		)
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventOTPVerified,
		Phone:     phone,
		Success:   true,
	})
	return nil
}

func (s *OTPService) validateOpts() hotp.ValidateOpts {
	return hotp.ValidateOpts{
		Digits:    s.digits(),
		Algorithm: otp.AlgorithmSHA1,
	}
}
