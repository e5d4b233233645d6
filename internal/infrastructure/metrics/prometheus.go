package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	cacheEvictions   prometheus.Gauge
	requests         *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	errors           *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	bindingsCleaned  prometheus.Counter
}

// NewPrometheusExporter creates a new Prometheus exporter registered on reg.
// A nil reg uses the default registerer.
func NewPrometheusExporter(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusExporter{
		collector: collector,
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relmanager_widget_state_cache_hit_rate",
			Help: "Current widget state cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relmanager_widget_state_cache_keys_current",
			Help: "Current number of keys in the widget state cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relmanager_widget_state_cache_memory_bytes",
			Help: "Current memory usage of the widget state cache in bytes",
		}),
		cacheEvictions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relmanager_widget_state_cache_evictions",
			Help: "Number of widget state cache evictions due to memory limits",
		}),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relmanager_requests_total",
				Help: "Total number of requests by handler",
			},
			[]string{"handler"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relmanager_request_duration_seconds",
				Help:    "Duration of requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"handler"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relmanager_errors_total",
				Help: "Total number of failed requests by handler",
			},
			[]string{"handler"},
		),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relmanager_batch_skipped_ids_total",
				Help: "Ids skipped by batch relation actions because they no longer exist",
			},
			[]string{"handler"},
		),
		bindingsCleaned: factory.NewCounter(prometheus.CounterOpts{
			Name: "relmanager_deferred_bindings_cleaned_total",
			Help: "Stale deferred bindings removed by cleanup",
		}),
	}
}

// Update updates Gauge metrics from the collector.
// Counters are updated via middleware, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
	e.cacheEvictions.Set(float64(cacheMetrics.Evictions))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(handler string) {
	e.requests.WithLabelValues(handler).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(handler string, durationSeconds float64) {
	e.duration.WithLabelValues(handler).Observe(durationSeconds)
}

// RecordError records an error in Prometheus.
func (e *PrometheusExporter) RecordError(handler string) {
	e.errors.WithLabelValues(handler).Inc()
}

// RecordSkipped records ids skipped by a batch action.
func (e *PrometheusExporter) RecordSkipped(handler string, n int) {
	if n > 0 {
		e.skipped.WithLabelValues(handler).Add(float64(n))
	}
}

// RecordBindingsCleaned records stale deferred bindings removed by cleanup.
func (e *PrometheusExporter) RecordBindingsCleaned(n int) {
	if n > 0 {
		e.bindingsCleaned.Add(float64(n))
	}
}
