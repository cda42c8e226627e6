package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the harmonization core.
type Metrics struct {
	ResolutionsTotal *prometheus.CounterVec
	UpsertOutcomes   *prometheus.CounterVec
	BatchDuration    prometheus.Histogram
	ReviewQueueSize  prometheus.Gauge
	ReferenceCreated prometheus.Counter
	CacheHits        *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ResolutionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_identity_resolutions_total",
			Help: "Identity resolution attempts by strategy.",
		}, []string{"strategy"}),
		UpsertOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_upsert_outcomes_total",
			Help: "Upsert engine outcomes by table and outcome.",
		}, []string{"table", "outcome"}),
		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "concord_batch_load_duration_seconds",
			Help:    "Wall time of one batch load across all tables.",
			Buckets: prometheus.DefBuckets,
		}),
		ReviewQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "concord_review_queue_size",
			Help: "Subjects currently flagged for review.",
		}),
		ReferenceCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "concord_reference_autocreated_total",
			Help: "Low-confidence reference entries auto-created by the name resolver.",
		}),
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concord_reference_cache_requests_total",
			Help: "Reference cache lookups by result (hit/miss).",
		}, []string{"result"}),
	}
}

// ObserveResolution records one identity resolution by strategy.
func (m *Metrics) ObserveResolution(strategy string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(strategy).Inc()
}

// ObserveOutcome records one upsert outcome.
func (m *Metrics) ObserveOutcome(table, outcome string) {
	if m == nil {
		return
	}
	m.UpsertOutcomes.WithLabelValues(table, outcome).Inc()
}

// ObserveBatch records the duration of a completed batch load.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

// SetReviewQueueSize updates the flagged-subject gauge.
func (m *Metrics) SetReviewQueueSize(n int) {
	if m == nil {
		return
	}
	m.ReviewQueueSize.Set(float64(n))
}
