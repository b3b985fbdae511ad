// Package metrics declares the Prometheus collectors exported on /metrics.
//
// Collectors are registered on the default registry at init time so any
// component can record into them without wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marketcore"

// ============ Circuit breakers ============

// BreakerState is 0 = closed, 1 = half-open, 2 = open.
var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "circuit",
		Name:      "state",
		Help:      "Current circuit breaker state per provider identity (0 closed, 1 half-open, 2 open)",
	},
	[]string{"identity"},
)

var BreakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "circuit",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions",
	},
	[]string{"identity", "from", "to"},
)

// ============ Cache ============

// CacheRequests counts lookups by result: hit, miss, expired, stale.
var CacheRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache lookups by category and result",
	},
	[]string{"category", "result"},
)

var CacheEvictions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Cache evictions by category and reason (expired, capacity)",
	},
	[]string{"category", "reason"},
)

var CacheEntries = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Entries currently held per cache category",
	},
	[]string{"category"},
)

// ============ Providers ============

var ProviderRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Upstream provider attempts by outcome (ok, error, rejected)",
	},
	[]string{"identity", "kind", "outcome"},
)

var ProviderLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "request_duration_seconds",
		Help:      "Upstream provider call latency",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	},
	[]string{"identity", "kind"},
)

var ThrottleWait = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for a rate limit slot",
		Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 2, 5},
	},
	[]string{"identity"},
)

// ============ Workers ============

var WorkerCycles = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "cycles_total",
		Help:      "Completed work cycles by worker and outcome (ok, error, panic)",
	},
	[]string{"worker", "trigger", "outcome"},
)

var WorkerCycleDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "cycle_duration_seconds",
		Help:      "Work cycle duration",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 9),
	},
	[]string{"worker"},
)

var WorkerRunning = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "running",
		Help:      "1 when the worker loop is running",
	},
	[]string{"worker"},
)
