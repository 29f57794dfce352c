// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"linerelay/internal/domain"
)

var (
	WebhookRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linerelay_webhook_requests_total",
		Help: "Webhook requests received, by platform and HTTP status.",
	}, []string{"platform", "status"})

	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linerelay_events_total",
		Help: "Inbound events, by platform and result (relayed, reply_failed, skipped).",
	}, []string{"platform", "result"})

	Completions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linerelay_completions_total",
		Help: "Completion calls, by outcome kind. Anything but ok was answered with the fallback text.",
	}, []string{"kind"})

	CompletionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linerelay_completion_latency_seconds",
		Help:    "Completion API latency in seconds.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	ReplyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linerelay_reply_errors_total",
		Help: "Replies the platform did not accept.",
	}, []string{"platform"})
)

func init() {
	prometheus.MustRegister(WebhookRequests, Events, Completions, CompletionLatency, ReplyErrors)
}

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveCompletion(kind domain.ErrorKind, d time.Duration) {
	Completions.WithLabelValues(string(kind)).Inc()
	CompletionLatency.Observe(d.Seconds())
}

func IncEvent(platform, result string) { Events.WithLabelValues(platform, result).Inc() }

func IncReplyError(platform string) { ReplyErrors.WithLabelValues(platform).Inc() }

func IncWebhook(platform string, status int) {
	WebhookRequests.WithLabelValues(platform, http.StatusText(status)).Inc()
}
