package models

import "time"

// OTP delivery channels
const (
	OTPChannelSMS   = "sms"
	OTPChannelEmail = "email"
)

// OTPChallenge is an outstanding one-time code issued to a phone. The code
// itself is never stored, only the secret it was derived from.
type OTPChallenge struct {
	Phone     string    `json:"phone"`
	Secret    string    `json:"secret"`
	Channel   string    `json:"channel"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *OTPChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
