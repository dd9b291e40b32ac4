// Package metrics exposes Prometheus metrics for the family store.
package metrics

import (
	"net/http"
	"time"

	"github.com/dukerupert/familytree/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "familytree"

// Metrics holds the collectors registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	bulkUpdates        prometheus.Counter
	bulkUpdateFailures prometheus.Counter
	bulkUpdateDuration prometheus.Histogram
	members            prometheus.Gauge
	archives           *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

// New creates a Metrics instance on a fresh registry. Go runtime and process
// collectors are included.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry: reg,
		bulkUpdates: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_updates_total",
			Help:      "Bulk updates written to the store.",
		}),
		bulkUpdateFailures: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_update_failures_total",
			Help:      "Bulk updates that failed to decode or persist.",
		}),
		bulkUpdateDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bulk_update_duration_seconds",
			Help:      "Time spent backing up and rewriting the store.",
			Buckets:   prometheus.DefBuckets,
		}),
		members: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "members",
			Help:      "Members in the store after the last bulk update.",
		}),
		archives: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_total",
			Help:      "Off-site archive attempts by outcome.",
		}, []string{"status"}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
}

// ObserveBulkUpdate records a successful bulk update of count members.
func (m *Metrics) ObserveBulkUpdate(count int, d time.Duration) {
	m.bulkUpdates.Inc()
	m.members.Set(float64(count))
	m.bulkUpdateDuration.Observe(d.Seconds())
}

// ObserveBulkUpdateFailure records a failed bulk update.
func (m *Metrics) ObserveBulkUpdateFailure() {
	m.bulkUpdateFailures.Inc()
}

// ObserveArchive implements archive.Recorder.
func (m *Metrics) ObserveArchive(status model.ArchiveStatus) {
	m.archives.WithLabelValues(string(status)).Inc()
}

// Instrument wraps next with a request counter.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.httpRequests, next)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
