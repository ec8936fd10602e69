package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig lists the proxies whose forwarding headers are believed.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// ExtractClientIP returns the caller's address. X-Forwarded-For and X-Real-IP
// are only read when the direct peer is a trusted proxy; X-Forwarded-For is
// walked right to left and the first hop outside the trusted ranges wins.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote := remoteAddr(r)
	if config == nil || len(config.TrustedProxies) == 0 {
		return remote
	}

	prefixes := parsePrefixes(config.TrustedProxies)
	if !containsAddr(prefixes, remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			addr, err := netip.ParseAddr(hop)
			if err != nil {
				continue
			}
			if !containsAddr(prefixes, addr.String()) {
				return addr.String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.String()
		}
	}

	return remote
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func parsePrefixes(cidrs []string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		if p, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

func containsAddr(prefixes []netip.Prefix, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
