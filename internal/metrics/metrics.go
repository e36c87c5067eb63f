// Package metrics provides optional Prometheus instrumentation for the
// worker pool and retrieval path. It is inert until WireTo is called
// with a registerer; nothing panics or errors if it is never wired, so
// callers that don't care about metrics can ignore this package
// entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gauges and histograms exported by ragd. The zero
// value is safe to use: every method is a no-op until WireTo runs.
type Metrics struct {
	poolCapacity  prometheus.Gauge
	poolAvailable prometheus.Gauge
	searchLatency prometheus.Histogram
	searchHits    prometheus.Counter
	searchMisses  prometheus.Counter
	wired         bool
}

// New returns an unwired Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// WireTo registers the collectors against reg and enables recording.
// Calling it more than once, or with a nil registerer, is a no-op.
func (m *Metrics) WireTo(reg prometheus.Registerer) {
	if reg == nil || m.wired {
		return
	}

	m.poolCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ragd",
		Subsystem: "pool",
		Name:      "capacity",
		Help:      "Configured worker pool capacity.",
	})
	m.poolAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ragd",
		Subsystem: "pool",
		Name:      "available",
		Help:      "Number of idle workers currently available.",
	})
	m.searchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ragd",
		Subsystem: "vectormemory",
		Name:      "search_duration_seconds",
		Help:      "Latency of VectorMemory.Search calls.",
		Buckets:   prometheus.DefBuckets,
	})
	m.searchHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "vectormemory",
		Name:      "search_hits_total",
		Help:      "Number of searches that returned at least one fragment.",
	})
	m.searchMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ragd",
		Subsystem: "vectormemory",
		Name:      "search_misses_total",
		Help:      "Number of searches that returned no fragment.",
	})

	reg.MustRegister(m.poolCapacity, m.poolAvailable, m.searchLatency, m.searchHits, m.searchMisses)
	m.wired = true
}

// ObservePoolSize records the pool's capacity and current idle count.
func (m *Metrics) ObservePoolSize(capacity, available int) {
	if !m.wired {
		return
	}
	m.poolCapacity.Set(float64(capacity))
	m.poolAvailable.Set(float64(available))
}

// ObserveSearch records the latency and hit/miss outcome of one
// VectorMemory.Search call.
func (m *Metrics) ObserveSearch(seconds float64, hit bool) {
	if !m.wired {
		return
	}
	m.searchLatency.Observe(seconds)
	if hit {
		m.searchHits.Inc()
	} else {
		m.searchMisses.Inc()
	}
}
