package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/el7lm/smartlogin/internal/models"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
)

// LogOTPSender is a dry-run sender: it writes the code to the log instead
// of delivering it. The code itself is only logged outside production.
type LogOTPSender struct {
	logger *slog.Logger
	env    string
}

func NewLogOTPSender(logger *slog.Logger, env string) *LogOTPSender {
	return &LogOTPSender{logger: logger, env: env}
}

func (s *LogOTPSender) Channel() string {
	return models.OTPChannelSMS
}

func (s *LogOTPSender) SendOTP(ctx context.Context, recipient OTPRecipient, code string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "otp dispatched (dry run)",
		slog.String("phone", pkglogger.SanitizedPhone(recipient.Phone)),
		pkglogger.RedactedAttr("code", code, s.env),
		slog.Time("expires_at", expiresAt),
	)
	return nil
}
