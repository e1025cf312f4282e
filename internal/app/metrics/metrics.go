package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the federation-layer Prometheus collectors.
	Registry = prometheus.NewRegistry()

	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "federation_layer",
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total number of artifact fetch attempts.",
		},
		[]string{"status"},
	)

	fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "federation_layer",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Duration of successful artifact fetches, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
	)

	fetchInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "federation_layer",
			Subsystem: "fetch",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight artifact fetches.",
		},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "federation_layer",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Artifact cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	containerInits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "federation_layer",
			Subsystem: "containers",
			Name:      "inits_total",
			Help:      "Container initialization attempts by outcome.",
		},
		[]string{"status"},
	)

	evalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "federation_layer",
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of script engine bundle evaluations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		fetchAttempts,
		fetchDuration,
		fetchInFlight,
		cacheLookups,
		containerInits,
		evalDuration,
	)
}

// Handler exposes the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// FetchAttempt records one network attempt with its outcome.
func FetchAttempt(status string) {
	fetchAttempts.WithLabelValues(status).Inc()
}

// ObserveFetch records the total duration of a successful fetch.
func ObserveFetch(d time.Duration) {
	fetchDuration.Observe(d.Seconds())
}

// FetchStarted and FetchSettled track the in-flight gauge.
func FetchStarted() { fetchInFlight.Inc() }
func FetchSettled() { fetchInFlight.Dec() }

// CacheHit records a cache lookup that returned stored bytes.
func CacheHit() { cacheLookups.WithLabelValues("hit").Inc() }

// CacheMiss records a cache lookup that fell through to the network.
func CacheMiss() { cacheLookups.WithLabelValues("miss").Inc() }

// ContainerInit records a container initialization outcome.
func ContainerInit(status string) {
	containerInits.WithLabelValues(status).Inc()
}

// ObserveEvaluation records how long a bundle evaluation held the engine.
func ObserveEvaluation(d time.Duration) {
	evalDuration.Observe(d.Seconds())
}
