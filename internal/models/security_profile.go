package models

import (
	"encoding/json"
	"slices"
	"time"
)

// SecurityLevel classifies how much a profile is trusted.
type SecurityLevel string

const (
	SecurityLevelNew        SecurityLevel = "new"
	SecurityLevelTrusted    SecurityLevel = "trusted"
	SecurityLevelSuspicious SecurityLevel = "suspicious"
)

// MaxLoginAttempts is the number of attempts retained per profile.
const MaxLoginAttempts = 10

// UnknownLocation is recorded for every attempt until geo lookup exists.
const UnknownLocation = "unknown"

// LoginAttempt is a single recorded login attempt.
type LoginAttempt struct {
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	DeviceInfo string    `json:"device_info"`
	IPAddress  string    `json:"ip_address"`
	Location   string    `json:"location"`
}

// SecurityProfile is the persisted per-phone login history and trust state.
type SecurityProfile struct {
	Phone            string         `json:"phone"`
	PhoneVerified    bool           `json:"phone_verified"`
	TotalLogins      int            `json:"total_logins"`
	SuccessfulLogins int            `json:"successful_logins"`
	LastLogin        *time.Time     `json:"last_login,omitempty"`
	LastLoginDevice  string         `json:"last_login_device"`
	LastLoginIP      string         `json:"last_login_ip"`
	TrustedDevices   []string       `json:"trusted_devices"`
	LoginAttempts    AttemptHistory `json:"login_attempts"`
	SecurityLevel    SecurityLevel  `json:"security_level"`
	RequiresOTP      bool           `json:"requires_otp"`
	OTPBypassEnabled bool           `json:"otp_bypass_enabled"`
	Version          int64          `json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// NewSecurityProfile returns the profile a freshly registered phone starts with.
func NewSecurityProfile(phone string, now time.Time) *SecurityProfile {
	return &SecurityProfile{
		Phone:          phone,
		TrustedDevices: []string{},
		SecurityLevel:  SecurityLevelNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsTrustedDevice reports whether device is in the trusted set.
func (p *SecurityProfile) IsTrustedDevice(device string) bool {
	return slices.Contains(p.TrustedDevices, device)
}

// TrustDevice adds device to the trusted set. It returns false if the
// device was already trusted.
func (p *SecurityProfile) TrustDevice(device string) bool {
	if p.IsTrustedDevice(device) {
		return false
	}
	p.TrustedDevices = append(p.TrustedDevices, device)
	return true
}

// AttemptHistory is a fixed-capacity ring of login attempts. Appending to a
// full history evicts the oldest entry. The zero value is an empty history.
type AttemptHistory struct {
	buf   [MaxLoginAttempts]LoginAttempt
	start int
	n     int
}

// NewAttemptHistory builds a history from attempts ordered oldest first.
// Only the most recent MaxLoginAttempts are kept.
func NewAttemptHistory(attempts []LoginAttempt) AttemptHistory {
	var h AttemptHistory
	for _, a := range attempts {
		h.Append(a)
	}
	return h
}

func (h *AttemptHistory) Append(a LoginAttempt) {
	if h.n < MaxLoginAttempts {
		h.buf[(h.start+h.n)%MaxLoginAttempts] = a
		h.n++
		return
	}
	h.buf[h.start] = a
	h.start = (h.start + 1) % MaxLoginAttempts
}

func (h *AttemptHistory) Len() int {
	return h.n
}

// Attempts returns a copy of the history, oldest first.
func (h *AttemptHistory) Attempts() []LoginAttempt {
	out := make([]LoginAttempt, 0, h.n)
	for i := 0; i < h.n; i++ {
		out = append(out, h.buf[(h.start+i)%MaxLoginAttempts])
	}
	return out
}

// FailuresSince counts failed attempts strictly after cutoff.
func (h *AttemptHistory) FailuresSince(cutoff time.Time) int {
	count := 0
	for i := 0; i < h.n; i++ {
		a := h.buf[(h.start+i)%MaxLoginAttempts]
		if !a.Success && a.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

func (h AttemptHistory) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Attempts())
}

func (h *AttemptHistory) UnmarshalJSON(data []byte) error {
	var attempts []LoginAttempt
	if err := json.Unmarshal(data, &attempts); err != nil {
		return err
	}
	*h = NewAttemptHistory(attempts)
	return nil
}
