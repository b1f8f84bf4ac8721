// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestCount counts view API requests.
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apidesk_http_requests_total",
			Help: "Total number of view API requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration observes view API latency.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apidesk_http_request_duration_seconds",
			Help:    "View API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ProviderCalls counts provider invocations by feature and outcome.
	// Outcome is "ok" or the provider error kind.
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apidesk_provider_calls_total",
			Help: "Total number of provider calls by feature and outcome",
		},
		[]string{"feature", "outcome"},
	)

	// ProviderLatency observes provider call latency.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apidesk_provider_call_duration_seconds",
			Help:    "Provider call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"feature"},
	)

	// ActionsRejected counts actions refused before reaching a provider.
	// Reason is validation, busy or missing_credential.
	ActionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apidesk_actions_rejected_total",
			Help: "Actions rejected before a provider call",
		},
		[]string{"feature", "reason"},
	)

	// ActiveSessions tracks live sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apidesk_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// SessionsExpired counts sessions ended by idle timeout.
	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apidesk_sessions_expired_total",
			Help: "Sessions ended by idle timeout",
		},
	)
)

// ObserveProviderCall records one provider call.
func ObserveProviderCall(feature, outcome string, d time.Duration) {
	ProviderCalls.WithLabelValues(feature, outcome).Inc()
	ProviderLatency.WithLabelValues(feature).Observe(d.Seconds())
}

// RejectAction records an action refused before reaching a provider.
func RejectAction(feature, reason string) {
	ActionsRejected.WithLabelValues(feature, reason).Inc()
}
