// Package metrics registers the Prometheus metrics emitted by the
// orchestration core. Import this package (via blank import, or directly
// for its vars) from the server entry point to register all metrics before
// the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed requests labelled by provider, model,
	// and status ("success" or "error").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the orchestrator.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds,
	// measured from Orchestrator.Run's entry to its terminal return.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	// CandidateAttemptsTotal counts individual dispatch attempts (one per
	// candidate retry), labelled by provider and outcome. A request that
	// falls through three candidates before succeeding increments this three
	// times but RequestsTotal only once.
	CandidateAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_candidate_attempts_total",
			Help: "Total per-candidate dispatch attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderErrors counts errors broken down by provider and classified
	// error kind (§7's errs.Kind taxonomy, e.g. "upstream_auth", "rate_limited").
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total provider errors by classified error kind.",
		},
		[]string{"provider", "error_kind"},
	)

	// CircuitBreakerState tracks per-credential Health Monitor state as a
	// gauge: 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Health Monitor state per credential (0=closed 1=open 2=half_open).",
		},
		[]string{"credential"},
	)

	// RateLimitRejections counts requests rejected by the Concurrency
	// Manager before ever reaching an upstream call, labelled by credential.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total candidates skipped due to a concurrency slot refusal.",
		},
		[]string{"credential"},
	)

	// AdaptiveLimit tracks the Adaptive Tuner's current concurrency ceiling
	// per credential.
	AdaptiveLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_adaptive_limit",
			Help: "Current adaptive concurrency ceiling per credential.",
		},
		[]string{"credential"},
	)

	// InFlightSlots tracks the observed in-flight request count per
	// credential, as read from the Concurrency Manager.
	InFlightSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_in_flight_slots",
			Help: "Observed in-flight request count per credential.",
		},
		[]string{"credential"},
	)

	// CacheAffinityOutcomes counts cache-affinity writes after a success and
	// invalidations after a failure, labelled by outcome ("set" or
	// "invalidated").
	CacheAffinityOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cache_affinity_outcomes_total",
			Help: "Cache-affinity updates by outcome (set, invalidated).",
		},
		[]string{"outcome"},
	)

	// RPMPaceWaitSeconds observes how long a retry spent blocked in
	// waitForRPM pacing after an RPM-classified 429.
	RPMPaceWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_rpm_pace_wait_seconds",
			Help:    "Time spent waiting on the RPM pacing limiter after a 429.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
		},
		[]string{"credential"},
	)
)
