package logger

import (
	"log/slog"
	"strings"
)

// SanitizedPhone masks all but the country prefix and the last two digits
// (e.g., "+966*******67").
func SanitizedPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "[empty-phone]"
	}
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-2:]
}

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(username) > 1 {
		username = username[:1] + strings.Repeat("*", len(username)-1)
	}

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return username + "@" + strings.Join(labels, ".")
}

// RedactedAttr hides value in production and passes it through elsewhere.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveQueryParams = []string{
	"password", "token", "secret", "otp", "code", "phone", "email", "auth",
}

// SanitizeQueryString reports whether a raw query should be redacted from
// request logs.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
