// Package config holds the typed TOML configuration for tossmail.
//
// The configuration is decoded once at startup and validated; every other
// package depends on these structs rather than on raw key lookups.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Output string `toml:"output"` // Log output: "stderr", "stdout", "syslog", or file path
	Format string `toml:"format"` // Log format: "json" or "console"
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", "error"
}

// GeneralConfig holds settings shared by the web viewer and the mail receiver.
type GeneralConfig struct {
	DataDir         string   `toml:"data_dir"`          // Base directory for mailbox storage
	URL             string   `toml:"url"`               // Public base URL used to build attachment links
	Domains         []string `toml:"domains"`           // Accepted recipient domains ("*" wildcards allowed)
	DateFormat      string   `toml:"date_format"`       // Display date format passed through to consumers
	Admin           string   `toml:"admin"`             // Privileged address whose inbox aggregates all mailboxes
	AdminEnabled    bool     `toml:"admin_enabled"`     // Expose the admin panel at all
	ShowAccountList bool     `toml:"show_account_list"` // Allow listing every known address
	ShowLogs        bool     `toml:"show_logs"`         // Allow viewing the server log tail
}

// WebConfig configures the HTTP viewer.
type WebConfig struct {
	Addr          string `toml:"addr"`           // Listen address, e.g. ":8080"
	Password      string `toml:"password"`       // Site-wide password ("" disables the gate)
	AdminPassword string `toml:"admin_password"` // Admin panel password ("" disables the gate)
	AllowedIPs    string `toml:"allowed_ips"`    // Comma-separated CIDR allowlist ("" allows all)
	TLS           bool   `toml:"tls"`
	TLSCertFile   string `toml:"tls_cert_file"`
	TLSKeyFile    string `toml:"tls_key_file"`
}

// MailserverConfig configures the SMTP receiver.
type MailserverConfig struct {
	Addr               string `toml:"addr"`     // Plaintext/STARTTLS listen address, e.g. ":25"
	TLSAddr            string `toml:"tls_addr"` // Implicit-TLS listen address ("" disables)
	TLSCertFile        string `toml:"tls_cert_file"`
	TLSKeyFile         string `toml:"tls_key_file"`
	Hostname           string `toml:"hostname"`
	DiscardUnknown     bool   `toml:"discard_unknown"`      // Drop mail for domains outside Domains
	AttachmentsMaxSize int64  `toml:"attachments_max_size"` // Per-attachment size cap in bytes (0 = unlimited)
	MaxMessageSize     int64  `toml:"max_message_size"`     // Whole-message size cap in bytes
}

// WebhookConfig holds the global fallback webhook used when a mailbox has no
// configuration of its own.
type WebhookConfig struct {
	URL string `toml:"url"`
}

// Config is the root configuration document.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Web        WebConfig        `toml:"web"`
	Mailserver MailserverConfig `toml:"mailserver"`
	Webhook    WebhookConfig    `toml:"webhook"`
	Logging    LoggingConfig    `toml:"logging"`
}

// NewDefaultConfig creates a Config struct with default values.
func NewDefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			DataDir:    "./data",
			DateFormat: "YYYY-MM-DD HH:mm",
		},
		Web: WebConfig{
			Addr: ":8080",
		},
		Mailserver: MailserverConfig{
			Addr:           ":25",
			MaxMessageSize: 26214400, // 25 MB
		},
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
	}
}

// LoadConfigFromFile decodes a TOML file over the defaults already present in
// cfg. Unknown keys are reported but not fatal; they are usually typos.
func LoadConfigFromFile(configPath string, cfg *Config) error {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	metadata, err := toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", configPath, err)
	}

	if len(metadata.Undecoded()) > 0 {
		for _, key := range metadata.Undecoded() {
			fmt.Fprintf(os.Stderr, "WARNING: unknown configuration key '%s' in '%s' will be ignored\n", key.String(), configPath)
		}
	}

	return cfg.Validate()
}

// Validate checks the configuration for mistakes that would otherwise only
// surface at request time.
func (c *Config) Validate() error {
	if c.General.DataDir == "" {
		return fmt.Errorf("general.data_dir must not be empty")
	}

	if c.General.AdminEnabled && c.General.Admin == "" {
		return fmt.Errorf("general.admin must be set when general.admin_enabled is true")
	}

	if c.Web.TLS && (c.Web.TLSCertFile == "" || c.Web.TLSKeyFile == "") {
		return fmt.Errorf("web.tls_cert_file and web.tls_key_file are required when web.tls is enabled")
	}

	if c.Mailserver.TLSAddr != "" && (c.Mailserver.TLSCertFile == "" || c.Mailserver.TLSKeyFile == "") {
		return fmt.Errorf("mailserver.tls_cert_file and mailserver.tls_key_file are required when mailserver.tls_addr is set")
	}

	if c.Mailserver.AttachmentsMaxSize < 0 {
		return fmt.Errorf("mailserver.attachments_max_size must not be negative")
	}

	for _, cidr := range c.Web.AllowedIPRanges() {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			if net.ParseIP(cidr) == nil {
				return fmt.Errorf("web.allowed_ips entry '%s' is neither an IP nor a CIDR range", cidr)
			}
		}
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got '%s'", c.Logging.Format)
	}

	return nil
}

// AllowedIPRanges splits the comma-separated allowlist into trimmed entries.
// An empty result means no restriction.
func (w *WebConfig) AllowedIPRanges() []string {
	if strings.TrimSpace(w.AllowedIPs) == "" {
		return nil
	}
	parts := strings.Split(w.AllowedIPs, ",")
	ranges := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ranges = append(ranges, p)
		}
	}
	return ranges
}

// NormalizedDomains returns the accepted domains lowercased and trimmed.
func (g *GeneralConfig) NormalizedDomains() []string {
	out := make([]string, 0, len(g.Domains))
	for _, d := range g.Domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}
