package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationAttempts tracks every attempt made through the retry scheduler
	OperationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_operation_attempts_total",
			Help: "Total number of operation attempts",
		},
		[]string{"outcome"},
	)

	// ErrorsClassified tracks classified failures by category
	ErrorsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_errors_classified_total",
			Help: "Total number of failures classified, by category",
		},
		[]string{"category"},
	)

	// RetriesExhausted tracks operations that ran out of attempts
	RetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilient_retries_exhausted_total",
			Help: "Total number of operations that exhausted their retry budget",
		},
	)

	// AttemptLatency tracks per-attempt latency
	AttemptLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resilient_attempt_latency_seconds",
			Help:    "Latency of individual operation attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CacheHits tracks cache reads served without a fetch (fresh or stale)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"freshness"},
	)

	// CacheMisses tracks cache reads that required a fetch
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilient_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheCoalesced tracks callers that shared another caller's in-flight fetch
	CacheCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resilient_cache_coalesced_total",
			Help: "Total number of fetches coalesced into a shared in-flight request",
		},
	)

	// CacheEvictions tracks entries removed by the background sweep
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_cache_evictions_total",
			Help: "Total number of cache entries evicted",
		},
		[]string{"reason"},
	)

	// QueueDepth tracks the number of operations waiting for replay
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilient_queue_depth",
			Help: "Number of queued operations waiting for connectivity",
		},
	)

	// QueueReplays tracks drain outcomes
	QueueReplays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilient_queue_replays_total",
			Help: "Total number of queued operation replays",
		},
		[]string{"outcome"},
	)

	// ConnectionQuality reports the last derived connection quality
	// (0 = offline, 1 = slow, 2 = fast)
	ConnectionQuality = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilient_connection_quality",
			Help: "Last derived connection quality (0=offline, 1=slow, 2=fast)",
		},
	)

	// ProbeRoundTrip reports the last measured probe round-trip time
	ProbeRoundTrip = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resilient_probe_round_trip_seconds",
			Help: "Round-trip time of the last connectivity probe in seconds",
		},
	)
)
