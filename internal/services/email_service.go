package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/el7lm/smartlogin/internal/models"
	pkglogger "github.com/el7lm/smartlogin/pkg/logger"
)

// SESClient is the subset of the SES API used to deliver codes.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESOTPSender delivers verification codes by email through AWS SES.
type SESOTPSender struct {
	client      SESClient
	fromAddress string
	logger      *slog.Logger
}

func NewSESOTPSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESOTPSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESOTPSenderWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewSESOTPSenderWithClient(client SESClient, fromAddress string, logger *slog.Logger) *SESOTPSender {
	return &SESOTPSender{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

func (s *SESOTPSender) Channel() string {
	return models.OTPChannelEmail
}

func (s *SESOTPSender) SendOTP(ctx context.Context, recipient OTPRecipient, code string, expiresAt time.Time) error {
	if recipient.Email == "" {
		return fmt.Errorf("no email on file for otp delivery: %w", models.ErrBadRequest)
	}

	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	textBody := fmt.Sprintf(`رمز التحقق الخاص بك في الحلم هو: %s

ينتهي هذا الرمز خلال %d دقيقة. لا تشارك هذا الرمز مع أي شخص.

Your El7lm verification code is %s. It expires in %d minutes.
`, code, minutes, code, minutes)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html dir="rtl">
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; color: #333;">
    <p>رمز التحقق الخاص بك:</p>
    <p style="font-size: 28px; letter-spacing: 6px;"><strong>%s</strong></p>
    <p>ينتهي هذا الرمز خلال %d دقيقة. لا تشارك هذا الرمز مع أي شخص.</p>
</body>
</html>
`, code, minutes)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{recipient.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("رمز التحقق - El7lm verification code"),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(textBody), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send otp email via SES",
			slog.String("email", pkglogger.SanitizedEmail(recipient.Email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("otp email sent",
		slog.String("email", pkglogger.SanitizedEmail(recipient.Email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
