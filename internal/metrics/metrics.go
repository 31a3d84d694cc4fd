// Package metrics provides Prometheus instrumentation for the SDK.
//
// Collectors are registered on the default registry so that an embedding
// application exposing /metrics picks them up automatically.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// APIRequestsTotal counts backend API requests by method, path
	// pattern, and outcome status code.
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zendfi",
			Name:      "api_requests_total",
			Help:      "Total ZendFi API requests by method, path, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration observes backend request latency.
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zendfi",
			Name:      "api_request_duration_seconds",
			Help:      "ZendFi API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionKeyUnlocks counts PIN unlock attempts by result.
	SessionKeyUnlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zendfi",
			Name:      "session_key_unlocks_total",
			Help:      "Session key unlock attempts by result (ok, bad_pin, device_mismatch).",
		},
		[]string{"result"},
	)

	// SignaturesTotal counts local signing operations by kind.
	SignaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zendfi",
			Name:      "signatures_total",
			Help:      "Local Ed25519 signatures produced, by kind (message, delegation).",
		},
		[]string{"kind"},
	)

	// AttestationVerifications counts audit-trail verifications by result.
	AttestationVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zendfi",
			Name:      "attestation_verifications_total",
			Help:      "Attestation audit trail verifications by result (ok, integrity_failure).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal,
		APIRequestDuration,
		SessionKeyUnlocks,
		SignaturesTotal,
		AttestationVerifications,
	)
}

// ObserveAPIRequest records one backend request.
func ObserveAPIRequest(method, path, status string, elapsed time.Duration) {
	APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
