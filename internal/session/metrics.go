package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report session activity.
type Metrics struct {
	active      prometheus.Gauge
	submissions *prometheus.CounterVec
	clears      prometheus.Counter
}

// MustNewMetrics constructs Metrics using the provided registerer.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qa_demo",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live sessions held in memory.",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qa_demo",
			Subsystem: "session",
			Name:      "submissions_total",
			Help:      "Question submissions by result.",
		}, []string{"result"}),
		clears: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qa_demo",
			Subsystem: "session",
			Name:      "history_clears_total",
			Help:      "Number of history clears.",
		}),
	}
	reg.MustRegister(m.active, m.submissions, m.clears)
	return m
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}
	m.active.Set(float64(n))
}

// ObserveSubmit counts a submission as answered or rejected.
func (m *Metrics) ObserveSubmit(err error) {
	if m == nil {
		return
	}
	result := "answered"
	if err != nil {
		result = "rejected"
	}
	m.submissions.WithLabelValues(result).Inc()
}

// ObserveClear counts a history clear.
func (m *Metrics) ObserveClear() {
	if m == nil {
		return
	}
	m.clears.Inc()
}
