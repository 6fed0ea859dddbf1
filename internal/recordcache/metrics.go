package recordcache

import "github.com/prometheus/client_golang/prometheus"

const (
	resultHit    = "hit"
	resultShared = "shared"
	resultMiss   = "miss"
)

// Metrics counts cache traffic. A nil *Metrics records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	failures      prometheus.Counter
	invalidations prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "record_cache",
			Name:      "requests_total",
			Help:      "Record reads by outcome: hit, shared (joined a pending fetch) or miss.",
		}, []string{"result"}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "record_cache",
			Name:      "fetch_failures_total",
			Help:      "Underlying fetches that returned an error.",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "record_cache",
			Name:      "invalidations_total",
			Help:      "Entries dropped by invalidation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.failures, m.invalidations)
	}
	return m
}

func (m *Metrics) request(result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(result).Inc()
}

func (m *Metrics) failure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}

func (m *Metrics) invalidated(n int) {
	if m == nil || n == 0 {
		return
	}
	m.invalidations.Add(float64(n))
}
