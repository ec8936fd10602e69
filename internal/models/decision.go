package models

// AuthMethod is the login method required by a decision.
type AuthMethod string

const (
	AuthMethodOTP      AuthMethod = "otp"
	AuthMethodPassword AuthMethod = "password"
	AuthMethodBoth     AuthMethod = "both"
)

// DecisionReason explains which rule produced a decision.
type DecisionReason string

const (
	ReasonNewUser            DecisionReason = "new_user"
	ReasonNewDevice          DecisionReason = "new_device"
	ReasonLongAbsence        DecisionReason = "long_absence"
	ReasonSuspiciousActivity DecisionReason = "suspicious_activity"
	ReasonUserChoice         DecisionReason = "user_choice"
)

// LoginSecurityDecision tells the caller which credentials the next login needs.
type LoginSecurityDecision struct {
	Method      AuthMethod     `json:"method"`
	Reason      DecisionReason `json:"reason"`
	Message     string         `json:"message"`
	OTPRequired bool           `json:"otp_required"`
	CanBypass   bool           `json:"can_bypass"`
}
