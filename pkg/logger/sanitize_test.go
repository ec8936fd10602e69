package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizedPhone(t *testing.T) {
	tests := []struct {
		phone string
		want  string
	}{
		{"+966501234567", "+966*******67"},
		{"+20123", "******"},
		{"", "[empty-phone]"},
		{" +201001234567 ", "+201*******67"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizedPhone(tt.phone), tt.phone)
	}
}

func TestSanitizedEmail(t *testing.T) {
	assert.Equal(t, "u***@*******.com", SanitizedEmail("user@example.com"))
	assert.Equal(t, "[invalid-email]", SanitizedEmail("not-an-email"))
	assert.Equal(t, "a@*.io", SanitizedEmail("a@b.io"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("otp=123456"))
	assert.True(t, SanitizeQueryString("Phone=%2B966"))
	assert.False(t, SanitizeQueryString("page=2&limit=10"))
}

func TestRedactedAttr(t *testing.T) {
	assert.Equal(t, "[REDACTED]", RedactedAttr("k", "v", "production").Value.String())
	assert.Equal(t, "v", RedactedAttr("k", "v", "development").Value.String())
}
