package metrics

import "time"

// BillingEventHandled records the outcome of a verified billing event.
func BillingEventHandled(kind, outcome string) {
	BillingEventsTotal.WithLabelValues(kind, outcome).Inc()
}

// BillingEventFailed records a billing event left for redelivery.
func BillingEventFailed(kind, code string) {
	BillingEventFailures.WithLabelValues(kind, code).Inc()
}

// UsageDecided records a quota decision.
func UsageDecided(result string) {
	UsageDecisions.WithLabelValues(result).Inc()
}

// AICallCompleted records a successful AI call and its token usage.
func AICallCompleted(duration time.Duration, inputTokens, outputTokens int) {
	AIAPICalls.WithLabelValues("success").Inc()
	AICallDuration.Observe(duration.Seconds())
	AITokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	AITokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// AICallFailed records a failed AI call.
func AICallFailed() {
	AIAPICalls.WithLabelValues("error").Inc()
}
