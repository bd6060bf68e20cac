// Package metrics registers the Prometheus collectors of the aptix API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aptix"

var (
	latencyBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	aiBuckets      = []float64{.25, .5, 1, 2.5, 5, 10, 30, 60}
)

func counter(name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

// HTTP
var (
	HTTPRequestsTotal = counterVec("http_requests_total",
		"HTTP requests by method, route pattern and status.", "method", "route", "status")

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   latencyBuckets,
	}, []string{"method", "route"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})
)

// Billing
var (
	BillingEventsTotal = counterVec("billing_events_total",
		"Verified billing events by kind and reconcile outcome.", "kind", "outcome")

	BillingEventFailures = counterVec("billing_event_failures_total",
		"Billing events left for redelivery, by kind and error code.", "kind", "code")

	BillingSignatureFailures = counter("billing_signature_failures_total",
		"Webhook payloads rejected by signature verification.")

	BillingUnmappedPrice = counter("billing_unmapped_price_total",
		"Billing events carrying a price ID missing from the price table.")

	BillingVersionConflicts = counter("billing_version_conflicts_total",
		"Billing version conflicts hit while applying a transition.")
)

// Usage
var UsageDecisions = counterVec("usage_decisions_total",
	"Quota decisions: allowed, denied or unlimited.", "result")

// AI. Token totals carry no user label.
var (
	AIAPICalls = counterVec("ai_api_calls_total", "AI provider calls by status.", "status")

	AICallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ai_call_duration_seconds",
		Help:      "AI provider call latency.",
		Buckets:   aiBuckets,
	})

	AITokensTotal = counterVec("ai_tokens_total", "AI tokens consumed, input or output.", "type")
)
