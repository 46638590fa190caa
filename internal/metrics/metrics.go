// Package metrics exposes Prometheus collectors for embedding, caching,
// fitting, and classification.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcqa"

// Metrics holds every collector on a private registry so several instances
// can coexist (tests, one-shot CLI runs).
type Metrics struct {
	registry *prometheus.Registry

	EmbedRequests *prometheus.CounterVec
	EmbedTexts    *prometheus.CounterVec
	EmbedDuration *prometheus.HistogramVec

	CacheTotal *prometheus.CounterVec
	CacheSize  *prometheus.GaugeVec

	FitDuration prometheus.Histogram
	FitSamples  prometheus.Gauge

	Accuracy  *prometheus.GaugeVec
	Decisions *prometheus.CounterVec
	Degraded  prometheus.Counter

	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EmbedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embed_requests_total",
				Help:      "Embedding provider calls",
			},
			[]string{"provider", "status"},
		),
		EmbedTexts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embed_texts_total",
				Help:      "Texts sent to the embedding provider",
			},
			[]string{"provider"},
		),
		EmbedDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embed_request_duration_seconds",
				Help:      "Embedding provider call duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),

		CacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_total",
				Help:      "Cache lookups by cache and result",
			},
			[]string{"cache", "result"}, // "hit" / "miss"
		),
		CacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Entries held by in-memory caches",
			},
			[]string{"cache"},
		),

		FitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_duration_seconds",
				Help:      "Scorer fitting duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
			},
		),
		FitSamples: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fit_samples",
				Help:      "Joint feature rows used by the last fit",
			},
		),

		Accuracy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accuracy",
				Help:      "Accuracy of the last evaluated split",
			},
			[]string{"split"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Decisions by chosen option",
			},
			[]string{"option"},
		),
		Degraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degraded_decisions_total",
				Help:      "Decisions that fell back to uniform probabilities",
			},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, path and status",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "HTTP requests being served",
			},
		),
	}

	m.registry.MustRegister(
		m.EmbedRequests, m.EmbedTexts, m.EmbedDuration,
		m.CacheTotal, m.CacheSize,
		m.FitDuration, m.FitSamples,
		m.Accuracy, m.Decisions, m.Degraded,
		m.HTTPRequests, m.HTTPDuration, m.HTTPRequestsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCacheHit counts a cache hit.
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheTotal.WithLabelValues(cache, "hit").Inc()
}

// RecordCacheMiss counts a cache miss.
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheTotal.WithLabelValues(cache, "miss").Inc()
}

// UpdateCacheSize sets the entry count of an in-memory cache.
func (m *Metrics) UpdateCacheSize(cache string, size int) {
	m.CacheSize.WithLabelValues(cache).Set(float64(size))
}

// ObserveEmbed records one provider call.
func (m *Metrics) ObserveEmbed(provider string, texts int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EmbedRequests.WithLabelValues(provider, status).Inc()
	m.EmbedTexts.WithLabelValues(provider).Add(float64(texts))
	m.EmbedDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveFit records one scorer fit.
func (m *Metrics) ObserveFit(samples int, elapsed time.Duration) {
	m.FitSamples.Set(float64(samples))
	m.FitDuration.Observe(elapsed.Seconds())
}

// SetAccuracy records the accuracy of an evaluated split.
func (m *Metrics) SetAccuracy(split string, accuracy float64) {
	m.Accuracy.WithLabelValues(split).Set(accuracy)
}

// RecordDecision counts a chosen option and whether it was degraded.
func (m *Metrics) RecordDecision(option string, degraded bool) {
	m.Decisions.WithLabelValues(option).Inc()
	if degraded {
		m.Degraded.Inc()
	}
}

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(method, path string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry to path for the node_exporter textfile
// collector. Batch runs use it since nothing scrapes them.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
