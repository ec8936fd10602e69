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
)

const (
	msgNewUser            = "مرحباً بك! للأمان، سنرسل لك رمز تحقق إلى هاتفك"
	msgVerificationStep   = "للأمان، نحتاج للتحقق من هويتك (التحقق %d من %d)"
	msgNewDevice          = "تم اكتشاف تسجيل دخول من جهاز جديد، يرجى إدخال رمز التحقق"
	msgLongAbsence        = "مرحباً بعودتك! مر وقت طويل منذ آخر تسجيل دخول، يرجى إدخال رمز التحقق"
	msgSuspiciousActivity = "تم رصد محاولات دخول فاشلة متعددة، يرجى إدخال رمز التحقق"
	msgPasswordAllowed    = "يمكنك تسجيل الدخول بكلمة المرور"
	msgOTPPreferred       = "لقد اخترت التحقق برمز OTP عند كل تسجيل دخول"
	msgProfileUnavailable = "تعذر التحقق من سجل الأمان، يرجى إدخال رمز التحقق"
)

// SecurityProfileStore persists security profiles keyed by phone. Update
// must apply fn atomically: fn receives the current profile and its changes
// are saved only if no other writer touched the profile in between. fn may
// be called more than once. Both methods return models.ErrNotFound when the
// phone has no profile.
type SecurityProfileStore interface {
	FindByPhone(ctx context.Context, phone string) (*models.SecurityProfile, error)
	Update(ctx context.Context, phone string, fn func(*models.SecurityProfile) error) error
}

// SecurityEventPublisher forwards security events to downstream consumers.
type SecurityEventPublisher interface {
	Publish(ctx context.Context, event models.SecurityEvent) error
}

// SecurityPolicy holds the thresholds Decide and RecordAttempt apply.
type SecurityPolicy struct {
	TrustThreshold     int
	LongAbsence        time.Duration
	SuspiciousWindow   time.Duration
	SuspiciousFailures int
}

// DefaultSecurityPolicy: 3 successful logins, 30 days, 3 failures in 60 minutes.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		TrustThreshold:     3,
		LongAbsence:        30 * 24 * time.Hour,
		SuspiciousWindow:   60 * time.Minute,
		SuspiciousFailures: 3,
	}
}

func SecurityPolicyFromConfig(cfg config.LoginSecurityConfig) SecurityPolicy {
	return SecurityPolicy{
		TrustThreshold:     cfg.TrustThreshold,
		LongAbsence:        cfg.LongAbsence,
		SuspiciousWindow:   cfg.SuspiciousWindow,
		SuspiciousFailures: cfg.SuspiciousFailures,
	}
}

// LoginSecurityService decides whether a login needs an OTP and keeps each
// phone's security profile up to date.
type LoginSecurityService struct {
	store       SecurityProfileStore
	policy      SecurityPolicy
	publisher   SecurityEventPublisher
	auditLogger *pkglogger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
}

// NewLoginSecurityService creates the evaluator. publisher may be nil.
func NewLoginSecurityService(
	store SecurityProfileStore,
	policy SecurityPolicy,
	publisher SecurityEventPublisher,
	auditLogger *pkglogger.AuditLogger,
	logger *slog.Logger,
) *LoginSecurityService {
	return &LoginSecurityService{
		store:       store,
		policy:      policy,
		publisher:   publisher,
		auditLogger: auditLogger,
		logger:      logger,
		now:         time.Now,
	}
}

// Decide returns the credentials the next login for phone on device must
// present. It never modifies the profile and never fails: when the profile
// cannot be read the strictest decision is returned.
func (s *LoginSecurityService) Decide(ctx context.Context, phone, deviceFingerprint, ipAddress string) models.LoginSecurityDecision {
	var decision models.LoginSecurityDecision

	profile, err := s.store.FindByPhone(ctx, phone)
	switch {
	case errors.Is(err, models.ErrNotFound) || (err == nil && profile == nil):
		decision = otpDecision(models.ReasonNewUser, msgNewUser)
	case err != nil:
		s.logger.Error("failed to load security profile, requiring otp",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Any("error", err),
		)
		decision = otpDecision(models.ReasonNewUser, msgProfileUnavailable)
	default:
		decision = s.policy.evaluate(profile, deviceFingerprint, s.now())
	}

	s.auditLogger.LogSecurityDecision(ctx, phone, deviceFingerprint, string(decision.Method), string(decision.Reason))
	s.publish(ctx, models.SecurityEvent{
		Type:              models.EventLoginDecision,
		Phone:             phone,
		DeviceFingerprint: deviceFingerprint,
		IPAddress:         ipAddress,
		Reason:            decision.Reason,
	})

	return decision
}

// evaluate applies the rules in order; the first match wins.
func (p SecurityPolicy) evaluate(profile *models.SecurityProfile, device string, now time.Time) models.LoginSecurityDecision {
	if profile.SuccessfulLogins < p.TrustThreshold {
		step := profile.SuccessfulLogins + 1
		return otpDecision(models.ReasonNewUser, fmt.Sprintf(msgVerificationStep, step, p.TrustThreshold))
	}

	if !profile.IsTrustedDevice(device) {
		return otpDecision(models.ReasonNewDevice, msgNewDevice)
	}

	if profile.LastLogin == nil || now.Sub(*profile.LastLogin) > p.LongAbsence {
		return otpDecision(models.ReasonLongAbsence, msgLongAbsence)
	}

	if profile.LoginAttempts.FailuresSince(now.Add(-p.SuspiciousWindow)) >= p.SuspiciousFailures {
		return otpDecision(models.ReasonSuspiciousActivity, msgSuspiciousActivity)
	}

	// An explicit OTP preference can only tighten the outcome.
	if profile.RequiresOTP {
		return otpDecision(models.ReasonUserChoice, msgOTPPreferred)
	}

	return models.LoginSecurityDecision{
		Method:      models.AuthMethodPassword,
		Reason:      models.ReasonUserChoice,
		Message:     msgPasswordAllowed,
		OTPRequired: false,
		CanBypass:   true,
	}
}

func otpDecision(reason models.DecisionReason, message string) models.LoginSecurityDecision {
	return models.LoginSecurityDecision{
		Method:      models.AuthMethodOTP,
		Reason:      reason,
		Message:     message,
		OTPRequired: true,
		CanBypass:   false,
	}
}

// RecordAttempt folds a resolved login attempt into the phone's profile.
// Phones without a profile are ignored. Storage failures are logged and
// swallowed so they never fail the login itself.
func (s *LoginSecurityService) RecordAttempt(ctx context.Context, phone string, success bool, deviceFingerprint, ipAddress string) {
	now := s.now()
	var deviceTrusted bool

	err := s.store.Update(ctx, phone, func(profile *models.SecurityProfile) error {
		deviceTrusted = s.policy.applyAttempt(profile, success, deviceFingerprint, ipAddress, now)
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		s.logger.Debug("no security profile for login attempt",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
		)
		return
	}
	if err != nil {
		s.logger.Error("failed to record login attempt",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Bool("success", success),
			slog.Any("error", err),
		)
		return
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventAttemptRecorded,
		Phone:     phone,
		IPAddress: ipAddress,
		Device:    deviceFingerprint,
		Success:   success,
	})
	s.publish(ctx, models.SecurityEvent{
		Type:              models.EventLoginAttempt,
		Phone:             phone,
		Success:           &success,
		DeviceFingerprint: deviceFingerprint,
		IPAddress:         ipAddress,
	})

	if deviceTrusted {
		s.auditLogger.LogAccountAction(ctx, pkglogger.EventDeviceTrusted, phone, map[string]string{
			"device": deviceFingerprint,
		})
		s.publish(ctx, models.SecurityEvent{
			Type:              models.EventDeviceTrusted,
			Phone:             phone,
			DeviceFingerprint: deviceFingerprint,
			IPAddress:         ipAddress,
		})
	}
}

// applyAttempt mutates profile for one attempt and reports whether the
// device became trusted.
func (p SecurityPolicy) applyAttempt(profile *models.SecurityProfile, success bool, device, ip string, now time.Time) bool {
	profile.LoginAttempts.Append(models.LoginAttempt{
		Timestamp:  now,
		Success:    success,
		DeviceInfo: device,
		IPAddress:  ip,
		Location:   models.UnknownLocation,
	})
	profile.TotalLogins++
	profile.LastLoginDevice = device
	profile.LastLoginIP = ip
	profile.UpdatedAt = now

	if !success {
		return false
	}

	profile.SuccessfulLogins++
	loginAt := now
	profile.LastLogin = &loginAt

	if profile.SuccessfulLogins >= p.TrustThreshold && profile.TrustDevice(device) {
		profile.SecurityLevel = models.SecurityLevelTrusted
		return true
	}
	return false
}

// SetOTPPreference toggles whether every login must use an OTP.
func (s *LoginSecurityService) SetOTPPreference(ctx context.Context, phone string, requiresOTP bool) error {
	now := s.now()
	err := s.store.Update(ctx, phone, func(profile *models.SecurityProfile) error {
		profile.RequiresOTP = requiresOTP
		profile.OTPBypassEnabled = !requiresOTP
		profile.UpdatedAt = now
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to update otp preference",
				slog.String("phone", pkglogger.SanitizedPhone(phone)),
				slog.Any("error", err),
			)
		}
		return fmt.Errorf("set otp preference: %w", err)
	}

	s.auditLogger.LogOTPPreference(ctx, phone, requiresOTP)
	s.publish(ctx, models.SecurityEvent{
		Type:  models.EventOTPPreferenceChange,
		Phone: phone,
	})
	return nil
}

// MarkPhoneVerified records that phone proved possession through an OTP.
func (s *LoginSecurityService) MarkPhoneVerified(ctx context.Context, phone string) {
	now := s.now()
	err := s.store.Update(ctx, phone, func(profile *models.SecurityProfile) error {
		if !profile.PhoneVerified {
			profile.PhoneVerified = true
			profile.UpdatedAt = now
		}
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to mark phone verified",
			slog.String("phone", pkglogger.SanitizedPhone(phone)),
			slog.Any("error", err),
		)
	}
}

// Profile returns the stored profile for phone.
func (s *LoginSecurityService) Profile(ctx context.Context, phone string) (*models.SecurityProfile, error) {
	profile, err := s.store.FindByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, models.ErrNotFound
	}
	return profile, nil
}

func (s *LoginSecurityService) publish(ctx context.Context, event models.SecurityEvent) {
	if s.publisher == nil {
		return
	}
	event.OccurredAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish security event",
			slog.String("type", event.Type),
			slog.Any("error", err),
		)
	}
}
