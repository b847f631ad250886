package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements Metrics on prometheus collectors.
type PromMetrics struct {
	OperationDuration *prometheus.HistogramVec
	Operations        *prometheus.CounterVec
	CacheHits         prometheus.Counter
	Throttles         prometheus.Counter
}

// NewPromMetrics creates a new metrics instance. The collectors must be
// registered by the caller, see Collectors.
func NewPromMetrics(namespace string) *PromMetrics {
	return &PromMetrics{
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation", "outcome"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fs",
			Name:      "operations_total",
			Help:      "Filesystem operations by outcome.",
		}, []string{"operation", "outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "statcache",
			Name:      "hits_total",
			Help:      "Stats served from the cache.",
		}),
		Throttles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "throttles_total",
			Help:      "Rate-limited (429) responses intercepted.",
		}),
	}
}

// Collectors returns all prometheus metrics as collectors for
// registration.
func (m *PromMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.OperationDuration,
		m.Operations,
		m.CacheHits,
		m.Throttles,
	}
}

// ObserveOperation records one completed operation.
func (m *PromMetrics) ObserveOperation(name, outcome string, elapsed time.Duration) {
	m.OperationDuration.WithLabelValues(name, outcome).Observe(elapsed.Seconds())
	m.Operations.WithLabelValues(name, outcome).Inc()
}

// IncCacheHit counts a stat served from the cache.
func (m *PromMetrics) IncCacheHit() { m.CacheHits.Inc() }

// IncThrottle counts a rate-limited response.
func (m *PromMetrics) IncThrottle() { m.Throttles.Inc() }
