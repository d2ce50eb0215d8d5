// Package metrics exposes the engine's Prometheus collectors: chain
// subscriber health, decode/detection throughput, and opportunity
// publication outcomes.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	chainConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arb_engine",
			Subsystem: "chain",
			Name:      "subscriber_connected",
			Help:      "Whether the chain subscriber's streaming connection is currently up (1) or down (0).",
		},
		[]string{"chain"},
	)

	chainReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "chain",
			Name:      "reconnects_total",
			Help:      "Total reconnection attempts made by the chain subscriber.",
		},
		[]string{"chain"},
	)

	chainFatalSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "chain",
			Name:      "fatal_sessions_total",
			Help:      "Total sessions that exhausted the reconnect-attempt budget.",
		},
		[]string{"chain"},
	)

	rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC calls made to chain endpoints.",
		},
		[]string{"chain", "method", "status"},
	)

	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arb_engine",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Duration of JSON-RPC calls made to chain endpoints.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"chain", "method"},
	)

	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "decoder",
			Name:      "errors_total",
			Help:      "Total malformed or discarded log payloads, by reason.",
		},
		[]string{"chain", "reason"},
	)

	decodesApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "decoder",
			Name:      "applied_total",
			Help:      "Total reserve updates successfully applied to the registry.",
		},
		[]string{"chain"},
	)

	registryPoolsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arb_engine",
			Subsystem: "registry",
			Name:      "pools_active",
			Help:      "Current number of pools marked active (non-zero reserves, not quarantined as stale) per chain.",
		},
		[]string{"chain"},
	)

	detectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "arb_engine",
			Subsystem: "detector",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one detection algorithm's run within a pass, by algorithm; opportunity emission is not included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~2s
		},
		[]string{"chain", "algorithm"},
	)

	detectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "detector",
			Name:      "errors_total",
			Help:      "Total detection-pass errors, caught and skipped without aborting the pass.",
		},
		[]string{"chain", "algorithm"},
	)

	detectorPanics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "detector",
			Name:      "panics_total",
			Help:      "Total panics recovered from the detector, by chain, triggering a restart from the current registry snapshot.",
		},
		[]string{"chain"},
	)

	detectorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arb_engine",
			Subsystem: "detector",
			Name:      "state",
			Help:      "Current detector state per chain (one-hot by state label: idle, evaluating, backpressured).",
		},
		[]string{"chain", "state"},
	)

	opportunitiesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "sink",
			Name:      "opportunities_emitted_total",
			Help:      "Total arbitrage opportunities handed to the publisher.",
		},
		[]string{"chain", "kind"},
	)

	opportunitiesDeduped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "arb_engine",
			Subsystem: "sink",
			Name:      "opportunities_deduped_total",
			Help:      "Total opportunities suppressed as duplicates within the dedup window.",
		},
		[]string{"chain"},
	)

	publisherBackpressure = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "arb_engine",
			Subsystem: "sink",
			Name:      "publisher_backpressure",
			Help:      "Whether the publisher is currently signaling backpressure (1) or not (0).",
		},
		[]string{"chain"},
	)
)

func init() {
	Registry.MustRegister(
		chainConnected,
		chainReconnects,
		chainFatalSessions,
		rpcRequests,
		rpcDuration,
		decodeErrors,
		decodesApplied,
		registryPoolsActive,
		detectionDuration,
		detectionErrors,
		detectorPanics,
		detectorState,
		opportunitiesEmitted,
		opportunitiesDeduped,
		publisherBackpressure,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetChainConnected records the chain subscriber's connection state.
func SetChainConnected(chain string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	chainConnected.WithLabelValues(chainLabel(chain)).Set(value)
}

// RecordReconnect increments the reconnect counter for a chain.
func RecordReconnect(chain string) {
	chainReconnects.WithLabelValues(chainLabel(chain)).Inc()
}

// RecordFatalSession increments the fatal-session counter for a chain.
func RecordFatalSession(chain string) {
	chainFatalSessions.WithLabelValues(chainLabel(chain)).Inc()
}

// RecordRPCCall records the outcome and duration of a chain RPC call.
func RecordRPCCall(chain, method, status string, dur time.Duration) {
	chain = chainLabel(chain)
	method = labelOr(method, "unknown")
	status = labelOr(status, "unknown")
	rpcRequests.WithLabelValues(chain, method, status).Inc()
	rpcDuration.WithLabelValues(chain, method).Observe(dur.Seconds())
}

// RecordDecodeError records a dropped/malformed log payload by reason
// ("bad_topic", "bad_length", "out_of_range", "unknown_pool").
func RecordDecodeError(chain, reason string) {
	decodeErrors.WithLabelValues(chainLabel(chain), labelOr(reason, "unknown")).Inc()
}

// RecordDecodeApplied records a reserve update successfully applied to the registry.
func RecordDecodeApplied(chain string) {
	decodesApplied.WithLabelValues(chainLabel(chain)).Inc()
}

// SetActivePoolCount sets the current active-pool gauge for a chain.
func SetActivePoolCount(chain string, count int) {
	registryPoolsActive.WithLabelValues(chainLabel(chain)).Set(float64(count))
}

// RecordDetectionPass records the duration of one detection pass for the
// given algorithm ("pairwise" or "multi_hop").
func RecordDetectionPass(chain, algorithm string, dur time.Duration) {
	detectionDuration.WithLabelValues(chainLabel(chain), labelOr(algorithm, "unknown")).Observe(dur.Seconds())
}

// RecordDetectionError records a caught-and-skipped detection error.
func RecordDetectionError(chain, algorithm string) {
	detectionErrors.WithLabelValues(chainLabel(chain), labelOr(algorithm, "unknown")).Inc()
}

// RecordDetectorPanic records a recovered panic that triggered a detector restart.
func RecordDetectorPanic(chain string) {
	detectorPanics.WithLabelValues(chainLabel(chain)).Inc()
}

// SetDetectorState publishes the one-hot detector state gauge for a chain
// ("idle", "evaluating", or "backpressured").
func SetDetectorState(chain, state string) {
	for _, s := range []string{"idle", "evaluating", "backpressured"} {
		value := 0.0
		if s == state {
			value = 1.0
		}
		detectorState.WithLabelValues(chainLabel(chain), s).Set(value)
	}
}

// RecordOpportunityEmitted records an opportunity handed to the publisher
// ("pairwise" or "multi_hop").
func RecordOpportunityEmitted(chain, kind string) {
	opportunitiesEmitted.WithLabelValues(chainLabel(chain), labelOr(kind, "unknown")).Inc()
}

// RecordOpportunityDeduped records an opportunity suppressed as a duplicate.
func RecordOpportunityDeduped(chain string) {
	opportunitiesDeduped.WithLabelValues(chainLabel(chain)).Inc()
}

// SetPublisherBackpressure records whether the publisher is currently
// signaling backpressure to the detector.
func SetPublisherBackpressure(chain string, backpressured bool) {
	value := 0.0
	if backpressured {
		value = 1.0
	}
	publisherBackpressure.WithLabelValues(chainLabel(chain)).Set(value)
}

func chainLabel(chain string) string {
	return labelOr(strings.ToLower(strings.TrimSpace(chain)), "unknown")
}

func labelOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
