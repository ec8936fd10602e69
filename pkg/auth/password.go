package auth

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 12
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt ignores bytes beyond 72
)

const (
	strongPasswordMessage = "كلمة المرور قوية"
	weakPasswordMessage   = "يجب أن تحتوي كلمة المرور على 8 أحرف على الأقل، وحرف كبير وحرف صغير ورقم"
)

// PasswordStrength is the outcome of ValidatePasswordStrength.
type PasswordStrength struct {
	IsStrong bool   `json:"is_strong"`
	Message  string `json:"message"`
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePasswordStrength requires at least MinPasswordLen characters with
// one ASCII lowercase letter, one ASCII uppercase letter and one digit.
// Line breaks are not accepted as password characters.
func ValidatePasswordStrength(password string) PasswordStrength {
	if isStrongPassword(password) {
		return PasswordStrength{IsStrong: true, Message: strongPasswordMessage}
	}
	return PasswordStrength{IsStrong: false, Message: weakPasswordMessage}
}

func isStrongPassword(password string) bool {
	if utf8.RuneCountInString(password) < MinPasswordLen {
		return false
	}

	var hasLower, hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case r == '\n' || r == '\r':
			return false
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	return hasLower && hasUpper && hasDigit
}
