package mailbox

import (
	"encoding/json"
	"net"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/tossmail/tossmail/helpers"
	"github.com/tossmail/tossmail/logger"
)

const webhookFileName = "webhook.json"

// RetryConfig bounds the delivery retry loop of a webhook.
type RetryConfig struct {
	MaxAttempts       int     `json:"max_attempts"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// WebhookConfig is the per-mailbox webhook document (webhook.json). Absence
// of the file means "disabled".
type WebhookConfig struct {
	Enabled         bool        `json:"enabled"`
	WebhookURL      string      `json:"webhook_url"`
	PayloadTemplate string      `json:"payload_template"`
	Retry           RetryConfig `json:"retry_config"`
	SecretKey       string      `json:"secret_key"`
}

// ValidationError is a user-facing webhook validation failure. The message is
// safe to return to the client verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PayloadPlaceholders are the tokens recognized in payload templates.
var PayloadPlaceholders = []string{
	"{{to}}", "{{from}}", "{{subject}}", "{{body}}",
	"{{htmlbody}}", "{{sender_ip}}", "{{attachments}}",
}

// blockedWebhookHosts are never acceptable webhook targets.
var blockedWebhookHosts = map[string]bool{
	"localhost":            true,
	"127.0.0.1":            true,
	"0.0.0.0":              true,
	"::1":                  true,
	"host.docker.internal": true,
}

// DefaultPayloadTemplate is used when a save request carries no template.
const DefaultPayloadTemplate = `{"email":"{{to}}","from":"{{from}}","subject":"{{subject}}","body":"{{body}}"}`

// ValidateWebhookURL applies the SSRF policy: http/https only, non-empty
// host, fixed internal-hostname blocklist, and literal IPs must be public.
// An empty URL is acceptable (the webhook is then effectively off).
func ValidateWebhookURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return &ValidationError{Message: "Invalid webhook URL"}
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if (scheme != "http" && scheme != "https") || host == "" {
		return &ValidationError{Message: "Invalid webhook URL"}
	}

	if blockedWebhookHosts[host] {
		return &ValidationError{Message: "Webhook URL cannot point to internal services"}
	}

	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
			ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() {
			return &ValidationError{Message: "Webhook URL cannot point to private IP addresses"}
		}
	}

	return nil
}

// ValidatePayloadTemplate substitutes every recognized placeholder with a
// sentinel value and requires the result to parse as JSON. The template
// itself, not the substituted form, is what gets persisted.
func ValidatePayloadTemplate(template string) error {
	probe := template
	for _, ph := range PayloadPlaceholders {
		sentinel := "test"
		if ph == "{{attachments}}" {
			sentinel = "[]"
		}
		probe = strings.ReplaceAll(probe, ph, sentinel)
	}
	if !json.Valid([]byte(probe)) {
		return &ValidationError{Message: "Invalid JSON in payload template"}
	}
	return nil
}

// Validate checks the whole webhook config and normalizes the secret key
// length. Violations come back as *ValidationError values.
func (c *WebhookConfig) Validate() error {
	if err := ValidateWebhookURL(c.WebhookURL); err != nil {
		return err
	}
	if err := ValidatePayloadTemplate(c.PayloadTemplate); err != nil {
		return err
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return &ValidationError{Message: "Max attempts must be between 1 and 10"}
	}
	if c.Retry.BackoffMultiplier < 1.0 || c.Retry.BackoffMultiplier > 5.0 {
		return &ValidationError{Message: "Backoff multiplier must be between 1 and 5"}
	}
	if len(c.SecretKey) > 255 {
		c.SecretKey = c.SecretKey[:255]
	}
	return nil
}

// GetWebhookConfig loads the webhook document of a mailbox. A missing or
// unreadable file reports (nil, false).
func (s *Store) GetWebhookConfig(address string) (*WebhookConfig, bool) {
	path := filepath.Join(s.sandbox.Resolve(address), webhookFileName)
	data, err := s.backend.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var cfg WebhookConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("invalid webhook config on disk", "address", address, "error", err)
		return nil, false
	}
	return &cfg, true
}

// SaveWebhookConfig validates and persists a webhook document wholesale.
// The address must be a well-formed email address.
func (s *Store) SaveWebhookConfig(address string, cfg *WebhookConfig) error {
	if !helpers.IsValidAddress(address) {
		return &ValidationError{Message: "Invalid email address"}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir, err := s.sandbox.Ensure(address)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err
	}
	return s.backend.WriteFile(filepath.Join(dir, webhookFileName), data, 0o640)
}

// DeleteWebhookConfig removes the webhook document. Absence after the call
// counts as success.
func (s *Store) DeleteWebhookConfig(address string) bool {
	path := filepath.Join(s.sandbox.Resolve(address), webhookFileName)
	if !s.backend.IsFile(path) {
		return true
	}
	return s.backend.Remove(path) == nil
}
