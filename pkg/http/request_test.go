package http_test

import (
	"net/http/httptest"
	"testing"

	pkghttp "github.com/el7lm/smartlogin/pkg/http"
	"github.com/stretchr/testify/assert"
)

var internalProxies = &pkghttp.IPConfig{
	TrustedProxies: []string{"10.0.0.0/8", "172.16.0.0/12", "127.0.0.1/32"},
}

func TestExtractClientIP_DirectConnection_IgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	assert.Equal(t, "203.0.113.10", pkghttp.ExtractClientIP(req, internalProxies))
}

func TestExtractClientIP_TrustedProxy_UsesForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")

	assert.Equal(t, "198.51.100.7", pkghttp.ExtractClientIP(req, internalProxies))
}

func TestExtractClientIP_TrustedProxy_SkipsSpoofedLeftHops(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"
	// Client prepended a fake hop; the proxy chain appended the real one.
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 198.51.100.7, 10.0.0.9")

	assert.Equal(t, "198.51.100.7", pkghttp.ExtractClientIP(req, internalProxies))
}

func TestExtractClientIP_TrustedProxy_FallsBackToRealIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "127.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "garbage")
	req.Header.Set("X-Real-IP", "198.51.100.8")

	assert.Equal(t, "198.51.100.8", pkghttp.ExtractClientIP(req, internalProxies))
}

func TestExtractClientIP_NoConfig(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")

	assert.Equal(t, "10.0.0.5", pkghttp.ExtractClientIP(req, nil))
}

func TestExtractClientIP_RemoteAddrWithoutPort(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10"

	assert.Equal(t, "203.0.113.10", pkghttp.ExtractClientIP(req, nil))
}
