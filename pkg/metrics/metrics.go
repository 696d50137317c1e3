// Package metrics exposes prometheus instrumentation for the receiver and
// the web viewer. All collectors are registered on the default registry and
// served from the web server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mail receiver metrics
var (
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tossmail_messages_received_total",
			Help: "Total number of messages accepted over SMTP",
		},
		[]string{"result"},
	)

	MessagesStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tossmail_messages_stored_total",
			Help: "Total number of message documents written to mailboxes",
		},
	)

	AttachmentsStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tossmail_attachments_stored_total",
			Help: "Total number of attachment files written",
		},
	)

	MessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tossmail_message_size_bytes",
			Help:    "Size distribution of accepted messages",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// Webhook delivery metrics
var (
	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tossmail_webhook_deliveries_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"result"},
	)
)

// Web viewer metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tossmail_http_requests_total",
			Help: "Total number of HTTP requests handled by the viewer",
		},
		[]string{"method"},
	)

	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tossmail_auth_attempts_total",
			Help: "Total number of password gate outcomes",
		},
		[]string{"gate", "result"},
	)

	MessagesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tossmail_messages_deleted_total",
			Help: "Total number of messages deleted through the viewer",
		},
	)
)
