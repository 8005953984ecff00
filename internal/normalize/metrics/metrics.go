package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for matching and bulk commits.
type Metrics struct {
	LabelsMatched     *prometheus.CounterVec
	AutoSelected      *prometheus.CounterVec
	BatchDuration     prometheus.Histogram
	MappingsCommitted *prometheus.CounterVec
	RowsUpdated       *prometheus.CounterVec
	CommitDuration    prometheus.Histogram
	AuditWriteFailed  prometheus.Counter
}

// New registers all normalization metrics on reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	buckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	return &Metrics{
		LabelsMatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mdnorm_labels_matched_total",
			Help: "Raw labels matched, by category and match type",
		}, []string{"category", "match_type"}),
		AutoSelected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mdnorm_labels_auto_selected_total",
			Help: "Raw labels accepted without review, by category",
		}, []string{"category"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdnorm_batch_match_duration_seconds",
			Help:    "Duration of BatchMatch calls",
			Buckets: buckets,
		}),
		MappingsCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mdnorm_mappings_committed_total",
			Help: "Mappings applied by bulk commits, by category and status",
		}, []string{"category", "status"}),
		RowsUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mdnorm_rows_updated_total",
			Help: "Store rows rewritten by bulk commits, by category",
		}, []string{"category"}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdnorm_commit_duration_seconds",
			Help:    "Duration of bulk commits including the audit write",
			Buckets: buckets,
		}),
		AuditWriteFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "mdnorm_audit_write_failures_total",
			Help: "Batch audit records that could not be persisted",
		}),
	}
}

// ObserveMatch records one classified label.
func (m *Metrics) ObserveMatch(category, matchType string) {
	m.LabelsMatched.WithLabelValues(category, matchType).Inc()
}

// AddAutoSelected records labels accepted without review.
func (m *Metrics) AddAutoSelected(category string, n int) {
	m.AutoSelected.WithLabelValues(category).Add(float64(n))
}

// ObserveBatch records the duration of a BatchMatch call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveBatch(start time.Time) {
	m.BatchDuration.Observe(time.Since(start).Seconds())
}

// ObserveMapping records the outcome of one committed mapping.
func (m *Metrics) ObserveMapping(category, status string, rows int) {
	m.MappingsCommitted.WithLabelValues(category, status).Inc()
	if rows > 0 {
		m.RowsUpdated.WithLabelValues(category).Add(float64(rows))
	}
}

// ObserveCommit records the duration of a Commit call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCommit(start time.Time) {
	m.CommitDuration.Observe(time.Since(start).Seconds())
}

// IncAuditWriteFailed records a lost batch audit record.
func (m *Metrics) IncAuditWriteFailed() {
	m.AuditWriteFailed.Inc()
}
