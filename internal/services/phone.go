package services

import (
	"strings"
	"unicode"
)

// NormalizePhone canonicalises a phone number to the +<digits> form used as
// the profile key. Arabic-Indic and Eastern Arabic-Indic digits are folded
// to ASCII, separators are dropped and a leading 00 becomes +. Input with no
// digits normalises to "".
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(phone) + 1)
	plus := false
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			plus = true
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case unicode.IsSpace(r), r == '-', r == '(', r == ')', r == '.':
		default:
			// Anything else makes the number unusable as a key.
			return ""
		}
	}

	digits := b.String()
	if digits == "" {
		return ""
	}
	if !plus && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		plus = true
	}
	if plus {
		return "+" + digits
	}
	return digits
}
