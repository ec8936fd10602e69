package logger

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// Audit event types
const (
	EventLogin            = "login"
	EventRegister         = "register"
	EventLogout           = "logout"
	EventOTPIssued        = "otp_issued"
	EventOTPVerified      = "otp_verified"
	EventSecurityDecision = "security_decision"
	EventAttemptRecorded  = "attempt_recorded"
	EventDeviceTrusted    = "device_trusted"
	EventOTPPreferenceSet = "otp_preference_set"
)

// AuditEvent is a security relevant action on a phone's account.
type AuditEvent struct {
	EventType     string
	Phone         string
	AccountID     string
	IPAddress     string
	Device        string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes audit records through slog. Phones are always masked.
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogAuthAttempt logs register, login, OTP and logout outcomes.
func (al *AuditLogger) LogAuthAttempt(ctx context.Context, event AuditEvent) {
	attrs := al.baseAttrs("auth", event.EventType, event.Phone)
	attrs = append(attrs, slog.Bool("success", event.Success))

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Device != "" {
		attrs = append(attrs, slog.String("device", event.Device))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogSecurityDecision records the method chosen for a login and why.
func (al *AuditLogger) LogSecurityDecision(ctx context.Context, phone, device, method, reason string) {
	attrs := al.baseAttrs("security", EventSecurityDecision, phone)
	attrs = append(attrs,
		slog.String("device", device),
		slog.String("method", method),
		slog.String("reason", reason),
	)
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// LogAccountAction logs profile changes such as trusting a device or
// toggling the OTP preference.
func (al *AuditLogger) LogAccountAction(ctx context.Context, eventType, phone string, metadata map[string]string) {
	attrs := al.baseAttrs("account", eventType, phone)
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}
	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// LogOTPPreference is a shorthand for the preference toggle.
func (al *AuditLogger) LogOTPPreference(ctx context.Context, phone string, requiresOTP bool) {
	al.LogAccountAction(ctx, EventOTPPreferenceSet, phone, map[string]string{
		"requires_otp": strconv.FormatBool(requiresOTP),
	})
}

func (al *AuditLogger) baseAttrs(auditType, eventType, phone string) []slog.Attr {
	return []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", eventType),
		slog.String("phone", SanitizedPhone(phone)),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
}
