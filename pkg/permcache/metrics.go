package permcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the cache's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	HitsTotal             *prometheus.CounterVec
	MissesTotal           *prometheus.CounterVec
	ResolutionsTotal      prometheus.Counter
	ResolutionErrorsTotal prometheus.Counter
	ResolutionDuration    prometheus.Histogram
	InvalidationsTotal    *prometheus.CounterVec
	StorageErrorsTotal    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them when reg is not nil
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breeze_permcache_hits_total",
				Help: "Total number of permission bundle cache hits",
			},
			[]string{"storage"},
		),
		MissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breeze_permcache_misses_total",
				Help: "Total number of permission bundle cache misses",
			},
			[]string{"storage"},
		),
		ResolutionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "breeze_permcache_resolutions_total",
				Help: "Total number of permission bundle resolutions",
			},
		),
		ResolutionErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "breeze_permcache_resolution_errors_total",
				Help: "Total number of failed permission bundle resolutions",
			},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "breeze_permcache_resolution_duration_seconds",
				Help:    "Permission bundle resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breeze_permcache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"kind", "source"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "breeze_permcache_storage_errors_total",
				Help: "Total number of cache storage errors",
			},
			[]string{"storage", "operation"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.HitsTotal,
			m.MissesTotal,
			m.ResolutionsTotal,
			m.ResolutionErrorsTotal,
			m.ResolutionDuration,
			m.InvalidationsTotal,
			m.StorageErrorsTotal,
		)
	}
	return m
}

func (m *Metrics) hit(storage string) {
	if m != nil {
		m.HitsTotal.WithLabelValues(storage).Inc()
	}
}

func (m *Metrics) miss(storage string) {
	if m != nil {
		m.MissesTotal.WithLabelValues(storage).Inc()
	}
}

func (m *Metrics) resolved(seconds float64, err error) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.Inc()
	m.ResolutionDuration.Observe(seconds)
	if err != nil {
		m.ResolutionErrorsTotal.Inc()
	}
}

func (m *Metrics) invalidated(kind, source string, n int) {
	if m != nil {
		m.InvalidationsTotal.WithLabelValues(kind, source).Add(float64(n))
	}
}

func (m *Metrics) storageError(storage, op string) {
	if m != nil {
		m.StorageErrorsTotal.WithLabelValues(storage, op).Inc()
	}
}
