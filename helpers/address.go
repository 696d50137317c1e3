package helpers

import (
	"regexp"
	"strings"
)

// addressPattern matches the addresses the receiver accepts: a local part
// without whitespace or '@', one '@', and a domain with at least one dot.
var addressPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[a-zA-Z0-9]+$`)

// IsValidAddress reports whether s looks like a deliverable email address.
func IsValidAddress(s string) bool {
	return s != "" && addressPattern.MatchString(s)
}

// NormalizeAddress lowercases and trims an address. Addresses are
// case-insensitive lookup keys everywhere in this codebase.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SplitAddress splits an address into local part and domain. The address is
// normalized first. ok is false when there is no '@'.
func SplitAddress(address string) (local, domain string, ok bool) {
	address = NormalizeAddress(address)
	at := strings.LastIndex(address, "@")
	if at <= 0 || at == len(address)-1 {
		return "", "", false
	}
	return address[:at], address[at+1:], true
}

// DomainAccepted reports whether domain matches any entry in domains.
// Entries may contain a "*" wildcard, e.g. "*.example.com".
func DomainAccepted(domain string, domains []string) bool {
	domain = strings.ToLower(domain)
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if strings.Contains(d, "*") {
			if strings.HasSuffix(domain, strings.ReplaceAll(d, "*", "")) {
				return true
			}
			continue
		}
		if domain == d {
			return true
		}
	}
	return false
}
