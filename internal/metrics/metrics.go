// Package metrics provides Prometheus metrics for the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	// Download stage
	AccessionsLanded  *prometheus.CounterVec
	AccessionsSkipped *prometheus.CounterVec
	AccessionsFailed  *prometheus.CounterVec
	AccessionsOmitted *prometheus.CounterVec

	// Assembly stage
	FilesAppended   prometheus.Counter
	CorpusSequences prometheus.Gauge

	// Build stage
	SegmentsBuilt   prometheus.Counter
	SegmentsSkipped prometheus.Counter
	SegmentsFailed  prometheus.Counter

	// Timings
	StageDuration *prometheus.HistogramVec
	FetchDuration prometheus.Histogram
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "blastdb_builder"
	}

	m := &Metrics{
		AccessionsLanded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accessions_landed_total",
				Help:      "Accessions fetched, extracted and landed",
			},
			[]string{"group"},
		),
		AccessionsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accessions_skipped_total",
				Help:      "Accessions skipped because they were already landed",
			},
			[]string{"group"},
		),
		AccessionsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accessions_failed_total",
				Help:      "Accessions whose fetch or extraction failed",
			},
			[]string{"group"},
		),
		AccessionsOmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accessions_omitted_total",
				Help:      "Accessions whose archive contained no sequence records",
			},
			[]string{"group"},
		),
		FilesAppended: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corpus_files_appended_total",
				Help:      "Sequence files appended to the corpus",
			},
		),
		CorpusSequences: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "corpus_sequences",
				Help:      "Sequence records counted in the assembled corpus",
			},
		),
		SegmentsBuilt: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_built_total",
				Help:      "Segment indexes built",
			},
		),
		SegmentsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_skipped_total",
				Help:      "Segments skipped because their index was already complete",
			},
		),
		SegmentsFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "segments_failed_total",
				Help:      "Segment index builds that failed",
			},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Wall time per pipeline stage",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1s to ~3 days
			},
			[]string{"stage"},
		),
		FetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time to fetch and land one accession",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncAccessionsLanded increments the landed counter for a group.
func (m *Metrics) IncAccessionsLanded(group string) {
	m.AccessionsLanded.WithLabelValues(group).Inc()
}

// IncAccessionsSkipped increments the skipped counter for a group.
func (m *Metrics) IncAccessionsSkipped(group string) {
	m.AccessionsSkipped.WithLabelValues(group).Inc()
}

// IncAccessionsFailed increments the failed counter for a group.
func (m *Metrics) IncAccessionsFailed(group string) {
	m.AccessionsFailed.WithLabelValues(group).Inc()
}

// IncAccessionsOmitted increments the omitted counter for a group.
func (m *Metrics) IncAccessionsOmitted(group string) {
	m.AccessionsOmitted.WithLabelValues(group).Inc()
}

// ObserveStageDuration records wall time for a stage.
func (m *Metrics) ObserveStageDuration(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// ObserveFetchDuration records the time to land one accession.
func (m *Metrics) ObserveFetchDuration(seconds float64) {
	m.FetchDuration.Observe(seconds)
}
