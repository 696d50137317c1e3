package mailserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/tossmail/tossmail/logger"
	"github.com/tossmail/tossmail/mailbox"
	"github.com/tossmail/tossmail/pkg/metrics"
)

const (
	webhookTimeout         = 30 * time.Second
	defaultMaxAttempts     = 3
	defaultBackoffMultiply = 2.0
)

// WebhookDispatcher forwards stored messages to HTTP endpoints. A mailbox
// with an enabled webhook.json gets its configured endpoint with templating,
// signing and retries; otherwise the global fallback URL receives the whole
// message document once.
type WebhookDispatcher struct {
	store     *mailbox.Store
	globalURL string
	client    *http.Client

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewWebhookDispatcher creates a dispatcher. globalURL may be empty.
func NewWebhookDispatcher(store *mailbox.Store, globalURL string) *WebhookDispatcher {
	return &WebhookDispatcher{
		store:     store,
		globalURL: globalURL,
		client:    &http.Client{Timeout: webhookTimeout},
		sleep:     time.Sleep,
	}
}

// Dispatch delivers one stored message for one mailbox. It blocks through
// the retry loop, so callers usually run it on its own goroutine.
func (d *WebhookDispatcher) Dispatch(address string, msg *mailbox.Message) {
	cfg, ok := d.store.GetWebhookConfig(address)
	if ok && cfg.Enabled {
		d.sendConfigured(address, msg, cfg)
		return
	}
	if d.globalURL != "" {
		d.sendGlobal(msg)
	}
}

func (d *WebhookDispatcher) sendConfigured(address string, msg *mailbox.Message, cfg *mailbox.WebhookConfig) {
	if cfg.WebhookURL == "" {
		logger.Error("webhook enabled without URL", "address", address)
		return
	}

	payload := RenderPayload(cfg.PayloadTemplate, msg)
	if !json.Valid([]byte(payload)) {
		logger.Error("webhook payload is not valid JSON after substitution",
			"address", address, "template", cfg.PayloadTemplate)
		metrics.WebhookDeliveriesTotal.WithLabelValues("invalid_payload").Inc()
		return
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if cfg.SecretKey != "" {
		headers.Set("X-Webhook-Signature", SignPayload(payload, cfg.SecretKey))
	}

	maxAttempts := cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := cfg.Retry.BackoffMultiplier
	if backoff < 1 {
		backoff = defaultBackoffMultiply
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if d.post(cfg.WebhookURL, payload, headers) {
			logger.Info("webhook delivered", "address", address, "url", cfg.WebhookURL, "attempt", attempt+1)
			metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
			return
		}
		if attempt < maxAttempts-1 {
			wait := time.Duration(math.Pow(backoff, float64(attempt)) * float64(time.Second))
			logger.Info("retrying webhook", "address", address, "in", wait)
			d.sleep(wait)
		}
	}

	logger.Error("webhook delivery failed", "address", address, "url", cfg.WebhookURL, "attempts", maxAttempts)
	metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
}

func (d *WebhookDispatcher) sendGlobal(msg *mailbox.Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Error("global webhook marshal failed", "error", err)
		return
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if d.post(d.globalURL, string(body), headers) {
		logger.Info("global webhook delivered", "url", d.globalURL)
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		return
	}
	logger.Warn("global webhook delivery failed", "url", d.globalURL)
	metrics.WebhookDeliveriesTotal.WithLabelValues("failure").Inc()
}

// post performs one delivery attempt and reports whether the endpoint
// answered with a 2xx status.
func (d *WebhookDispatcher) post(url, payload string, headers http.Header) bool {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(payload)))
	if err != nil {
		logger.Error("webhook request build failed", "url", url, "error", err)
		return false
	}
	req.Header = headers.Clone()

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Warn("webhook request failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	logger.Warn("webhook rejected", "url", url, "status", resp.StatusCode)
	return false
}

// RenderPayload substitutes the recognized placeholders into a payload
// template. Scalar values are JSON-string-escaped so the template stays valid
// JSON; {{attachments}} expands to a JSON array and must be placed in array
// position.
func RenderPayload(template string, msg *mailbox.Message) string {
	to := ""
	if len(msg.Rcpts) > 0 {
		to = msg.Rcpts[0]
	}

	details := msg.Parsed.AttachmentsDetails
	if details == nil {
		details = []mailbox.AttachmentDetail{}
	}
	attachmentsJSON, err := json.Marshal(details)
	if err != nil {
		attachmentsJSON = []byte("[]")
	}

	replacements := map[string]string{
		"{{to}}":          jsonEscape(to),
		"{{from}}":        jsonEscape(msg.Parsed.From),
		"{{subject}}":     jsonEscape(msg.Parsed.Subject),
		"{{body}}":        jsonEscape(msg.Parsed.Body),
		"{{htmlbody}}":    jsonEscape(msg.Parsed.HTMLBody),
		"{{sender_ip}}":   jsonEscape(msg.SenderIP),
		"{{attachments}}": string(attachmentsJSON),
	}

	result := template
	for key, value := range replacements {
		result = strings.ReplaceAll(result, key, value)
	}
	return result
}

// SignPayload computes the hex HMAC-SHA256 of the payload under the secret.
func SignPayload(payload, secretKey string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func jsonEscape(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return replacer.Replace(value)
}
