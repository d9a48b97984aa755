package answer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report answer resolution.
type Metrics struct {
	cacheLookups     *prometheus.CounterVec
	upstreamCalls    *prometheus.CounterVec
	upstreamDuration prometheus.Histogram
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global Prometheus registry.
// Collectors are created once so several services can share them.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics using the provided registerer.
// Tests should pass a fresh registry. Registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qa_demo",
				Subsystem: "answer",
				Name:      "cache_lookups_total",
				Help:      "Answer cache lookups by result.",
			},
			[]string{"result"},
		),
		upstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "qa_demo",
				Subsystem: "answer",
				Name:      "upstream_calls_total",
				Help:      "Upstream generation calls by outcome.",
			},
			[]string{"outcome"},
		),
		upstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "qa_demo",
				Subsystem: "answer",
				Name:      "upstream_duration_seconds",
				Help:      "Latency of upstream generation calls.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	reg.MustRegister(m.cacheLookups, m.upstreamCalls, m.upstreamDuration)
	return m
}

func (m *Metrics) observeLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) observeUpstream(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.upstreamCalls.WithLabelValues(outcome).Inc()
	m.upstreamDuration.Observe(d.Seconds())
}
