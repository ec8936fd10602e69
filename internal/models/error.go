package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Concurrency
	ErrVersionConflict = errors.New("profile was modified concurrently")

	// Account state errors
	ErrAccountDisabled = errors.New("account is disabled")
	ErrWeakPassword    = errors.New("password does not meet strength requirements")

	// OTP challenge errors
	ErrOTPRequired         = errors.New("otp verification required")
	ErrOTPInvalid          = errors.New("invalid otp code")
	ErrOTPExpired          = errors.New("otp code expired or not issued")
	ErrOTPAttemptsExceeded = errors.New("too many otp attempts")
)
