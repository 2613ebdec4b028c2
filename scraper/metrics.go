package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RetriesTotal    prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	ListingsTotal   *prometheus.CounterVec
	ImagesTotal     *prometheus.CounterVec
	ConversionTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_scraper_requests_total",
			Help: "Total HTTP requests issued, by phase (page or image).",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listing_scraper_request_duration_seconds",
			Help:    "HTTP latency per attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_scraper_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_scraper_listings_total",
			Help: "Processed listings by final status.",
		},
		[]string{"status"},
	)
	images := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_scraper_images_total",
			Help: "Image download outcomes by status.",
		},
		[]string{"status"},
	)
	conversions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_scraper_jpeg_conversions_total",
			Help: "JPEG normalization attempts by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(requests, requestDuration, retries, errorsTotal, listings, images, conversions)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		ListingsTotal:   listings,
		ImagesTotal:     images,
		ConversionTotal: conversions,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncListing counts a listing by status.
func (m *Metrics) IncListing(status string) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(status).Inc()
}

// IncImage counts an image outcome (downloaded, skipped, failed).
func (m *Metrics) IncImage(status string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(status).Inc()
}

// IncConversion counts a JPEG normalization attempt.
func (m *Metrics) IncConversion(result string) {
	if m == nil {
		return
	}
	m.ConversionTotal.WithLabelValues(result).Inc()
}
