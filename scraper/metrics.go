package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Group outcomes used as the "decision" label.
const (
	decisionTooRecent = "too_recent"
	decisionTooOld    = "too_old"
	decisionInWindow  = "in_window"
	decisionDuplicate = "duplicate"
)

// Metrics bundles Prometheus collectors for the extractor.
type Metrics struct {
	Registry         *prometheus.Registry
	ExtractionsTotal *prometheus.CounterVec
	PagesTotal       prometheus.Counter
	PageDuration     prometheus.Histogram
	GroupsTotal      *prometheus.CounterVec
	RecordsTotal     prometheus.Counter
	ErrorsTotal      *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	extractions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_extractions_total",
			Help: "Total extraction runs by result.",
		},
		[]string{"result"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_total",
			Help: "Total listing pages scanned.",
		},
	)
	pageDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_page_duration_seconds",
			Help:    "Time spent scanning one listing page, detail pages included.",
			Buckets: prometheus.DefBuckets,
		},
	)
	groups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_order_groups_total",
			Help: "Total order groups inspected by decision.",
		},
		[]string{"decision"},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Total purchase records extracted.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(extractions, pages, pageDuration, groups, records, errorsTotal)

	return &Metrics{
		Registry:         registry,
		ExtractionsTotal: extractions,
		PagesTotal:       pages,
		PageDuration:     pageDuration,
		GroupsTotal:      groups,
		RecordsTotal:     records,
		ErrorsTotal:      errorsTotal,
	}
}

// IncExtraction counts a finished run as "success" or "failure".
func (m *Metrics) IncExtraction(result string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(result).Inc()
}

// ObservePage counts a scanned page and records how long it took.
func (m *Metrics) ObservePage(d time.Duration) {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
	m.PageDuration.Observe(d.Seconds())
}

// IncGroup increments the group counter for a decision label.
func (m *Metrics) IncGroup(decision string) {
	if m == nil {
		return
	}
	m.GroupsTotal.WithLabelValues(decision).Inc()
}

// AddRecords adds n to the records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
