package guard

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:   "remote addr only",
			remote: "198.51.100.7:4444",
			want:   "198.51.100.7",
		},
		{
			name:    "cloudflare header wins",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.1", "X-Forwarded-For": "203.0.113.2"},
			remote:  "198.51.100.7:4444",
			want:    "203.0.113.1",
		},
		{
			name:    "forwarded-for first valid entry",
			headers: map[string]string{"X-Forwarded-For": "garbage, 203.0.113.2, 203.0.113.3"},
			remote:  "198.51.100.7:4444",
			want:    "203.0.113.2",
		},
		{
			name:    "client-ip header",
			headers: map[string]string{"Client-IP": "203.0.113.4"},
			remote:  "198.51.100.7:4444",
			want:    "203.0.113.4",
		},
		{
			name:    "invalid header values ignored",
			headers: map[string]string{"CF-Connecting-IP": "not-an-ip", "X-Forwarded-For": "also-bad"},
			remote:  "198.51.100.7:4444",
			want:    "198.51.100.7",
		},
		{
			name:   "ipv6 remote",
			remote: "[2001:db8::1]:4444",
			want:   "2001:db8::1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestIPAllowed(t *testing.T) {
	tests := []struct {
		name   string
		ip     string
		ranges []string
		want   bool
	}{
		{"cidr match", "203.0.113.9", []string{"203.0.113.0/24"}, true},
		{"cidr miss", "198.51.100.1", []string{"203.0.113.0/24"}, false},
		{"bare ip match", "203.0.113.9", []string{"203.0.113.9"}, true},
		{"bare ip miss", "203.0.113.9", []string{"203.0.113.10"}, false},
		{"second range matches", "10.0.0.5", []string{"203.0.113.0/24", "10.0.0.0/8"}, true},
		{"ipv6 cidr", "2001:db8::5", []string{"2001:db8::/32"}, true},
		{"empty ranges", "203.0.113.9", nil, false},
		{"invalid ip", "not-an-ip", []string{"203.0.113.0/24"}, false},
		{"blank entries skipped", "203.0.113.9", []string{"", " ", "203.0.113.9"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IPAllowed(tc.ip, tc.ranges); got != tc.want {
				t.Errorf("IPAllowed(%q, %v) = %v, want %v", tc.ip, tc.ranges, got, tc.want)
			}
		})
	}
}
