package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
[general]
data_dir = "/var/lib/tossmail"
url = "https://trash.example.com"
domains = ["example.com", "*.trash.example.com"]
admin = "admin@example.com"
admin_enabled = true
show_account_list = true

[web]
addr = ":9090"
password = "sitepw"
admin_password = "adminpw"
allowed_ips = "203.0.113.0/24, 198.51.100.7"

[mailserver]
addr = ":2525"
discard_unknown = true
attachments_max_size = 1048576

[webhook]
url = "https://hooks.example.com/mail"

[logging]
level = "debug"
format = "json"
`)

	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(path, &cfg))

	require.Equal(t, "/var/lib/tossmail", cfg.General.DataDir)
	require.Equal(t, []string{"example.com", "*.trash.example.com"}, cfg.General.Domains)
	require.True(t, cfg.General.AdminEnabled)
	require.Equal(t, ":9090", cfg.Web.Addr)
	require.Equal(t, []string{"203.0.113.0/24", "198.51.100.7"}, cfg.Web.AllowedIPRanges())
	require.Equal(t, ":2525", cfg.Mailserver.Addr)
	require.True(t, cfg.Mailserver.DiscardUnknown)
	require.EqualValues(t, 1048576, cfg.Mailserver.AttachmentsMaxSize)
	require.Equal(t, "https://hooks.example.com/mail", cfg.Webhook.URL)
	require.Equal(t, "debug", cfg.Logging.Level)

	// Defaults survive for keys the file does not set.
	require.EqualValues(t, 26214400, cfg.Mailserver.MaxMessageSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.toml"), &cfg)
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty data dir",
			mutate:  func(c *Config) { c.General.DataDir = "" },
			wantErr: "data_dir",
		},
		{
			name: "admin enabled without address",
			mutate: func(c *Config) {
				c.General.AdminEnabled = true
				c.General.Admin = ""
			},
			wantErr: "general.admin",
		},
		{
			name: "web tls without cert",
			mutate: func(c *Config) {
				c.Web.TLS = true
			},
			wantErr: "web.tls_cert_file",
		},
		{
			name: "mail tls addr without cert",
			mutate: func(c *Config) {
				c.Mailserver.TLSAddr = ":465"
			},
			wantErr: "mailserver.tls_cert_file",
		},
		{
			name: "negative attachment cap",
			mutate: func(c *Config) {
				c.Mailserver.AttachmentsMaxSize = -1
			},
			wantErr: "attachments_max_size",
		},
		{
			name: "bad allowlist entry",
			mutate: func(c *Config) {
				c.Web.AllowedIPs = "not-a-range"
			},
			wantErr: "allowed_ips",
		},
		{
			name: "bare ip allowlist entry ok",
			mutate: func(c *Config) {
				c.Web.AllowedIPs = "203.0.113.9"
			},
		},
		{
			name: "bad log format",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantErr: "logging.format",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNormalizedDomains(t *testing.T) {
	g := GeneralConfig{Domains: []string{" Example.COM ", "", "*.Trash.net"}}
	require.Equal(t, []string{"example.com", "*.trash.net"}, g.NormalizedDomains())
}

func TestAllowedIPRangesEmpty(t *testing.T) {
	w := WebConfig{AllowedIPs: "   "}
	require.Nil(t, w.AllowedIPRanges())
}
