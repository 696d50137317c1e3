package guard

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP computes the effective caller address: a trusted proxy header
// first, then the forwarded-for chain, then the direct peer address. Every
// candidate is validated as a syntactically correct IP before being trusted.
func ClientIP(r *http.Request) string {
	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" && net.ParseIP(cf) != nil {
		return cf
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			part = strings.TrimSpace(part)
			if net.ParseIP(part) != nil {
				return part
			}
		}
	}

	if client := r.Header.Get("Client-IP"); client != "" && net.ParseIP(client) != nil {
		return client
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if net.ParseIP(host) != nil {
		return host
	}
	return ""
}

// IPAllowed reports whether ip falls inside any of the configured ranges.
// Ranges may be bare IPs or CIDR blocks; any single match admits.
func IPAllowed(ip string, ranges []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	for _, r := range ranges {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if strings.Contains(r, "/") {
			if _, cidr, err := net.ParseCIDR(r); err == nil && cidr.Contains(parsed) {
				return true
			}
			continue
		}
		if other := net.ParseIP(r); other != nil && other.Equal(parsed) {
			return true
		}
	}
	return false
}
