package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// DeviceFingerprintHeader lets a client send a fingerprint it computed itself.
const DeviceFingerprintHeader = "X-Device-Fingerprint"

const maxFingerprintLen = 128

// DeviceFingerprint derives a stable identifier from client platform, locale
// and user agent. It identifies a device, it does not authenticate one.
func DeviceFingerprint(platform, locale, userAgent string) string {
	normalized := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(platform)),
		strings.ToLower(strings.TrimSpace(locale)),
		strings.TrimSpace(userAgent),
	}, "|")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])[:32]
}

// FingerprintFromRequest prefers a client supplied fingerprint and falls back
// to deriving one from request headers.
func FingerprintFromRequest(r *http.Request) string {
	if fp := strings.TrimSpace(r.Header.Get(DeviceFingerprintHeader)); fp != "" {
		if len(fp) > maxFingerprintLen {
			fp = fp[:maxFingerprintLen]
		}
		return fp
	}

	platform := strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `"`)
	locale := primaryLocale(r.Header.Get("Accept-Language"))
	return DeviceFingerprint(platform, locale, r.UserAgent())
}

// primaryLocale returns the first language tag of an Accept-Language value.
func primaryLocale(acceptLanguage string) string {
	tag, _, _ := strings.Cut(acceptLanguage, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}
