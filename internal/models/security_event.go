package models

import "time"

// Security event types published to the event stream
const (
	EventLoginDecision       = "login_decision"
	EventLoginAttempt        = "login_attempt_recorded"
	EventOTPPreferenceChange = "otp_preference_changed"
	EventDeviceTrusted       = "device_trusted"
)

// SecurityEvent describes a change in a phone's login security state.
type SecurityEvent struct {
	Type              string         `json:"type"`
	Phone             string         `json:"phone"`
	Success           *bool          `json:"success,omitempty"`
	DeviceFingerprint string         `json:"device_fingerprint,omitempty"`
	IPAddress         string         `json:"ip_address,omitempty"`
	Reason            DecisionReason `json:"reason,omitempty"`
	OccurredAt        time.Time      `json:"occurred_at"`
}
