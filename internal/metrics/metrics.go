package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notification outcome label values.
const (
	OutcomeSent       = "sent"
	OutcomeFailed     = "failed"
	OutcomeUnresolved = "unresolved"
)

type Registry struct {
	reg            *prometheus.Registry
	Uploads        prometheus.Counter
	UploadFailures prometheus.Counter
	RowsReceived   prometheus.Counter
	RowsDropped    prometheus.Counter
	RowsMerged     prometheus.Counter
	Changes        *prometheus.CounterVec // kind=first_seen|changed
	Evicted        prometheus.Counter
	StoreDegraded  prometheus.Counter
	GoldenRecords  prometheus.Gauge

	Notifications       *prometheus.CounterVec // outcome
	NotificationLatency prometheus.Histogram
	HistoryAppendErrors prometheus.Counter
	ManifestErrors      prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	uploads := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_uploads_total"})
	uploadFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_upload_failures_total"})
	rowsReceived := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_rows_received_total"})
	rowsDropped := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_rows_dropped_total"})
	rowsMerged := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_rows_merged_total"})
	changes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "shipwatch_changes_detected_total"}, []string{"kind"})
	evicted := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_records_evicted_total"})
	degraded := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_store_degraded_loads_total"})
	golden := prometheus.NewGauge(prometheus.GaugeOpts{Name: "shipwatch_golden_records"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "shipwatch_notifications_total"}, []string{"outcome"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipwatch_notification_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	historyErrors := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_history_append_errors_total"})
	manifestErrors := prometheus.NewCounter(prometheus.CounterOpts{Name: "shipwatch_manifest_publish_errors_total"})

	r.MustRegister(uploads, uploadFailures, rowsReceived, rowsDropped, rowsMerged, changes, evicted, degraded, golden,
		notifications, latency, historyErrors, manifestErrors)
	return &Registry{
		reg:                 r,
		Uploads:             uploads,
		UploadFailures:      uploadFailures,
		RowsReceived:        rowsReceived,
		RowsDropped:         rowsDropped,
		RowsMerged:          rowsMerged,
		Changes:             changes,
		Evicted:             evicted,
		StoreDegraded:       degraded,
		GoldenRecords:       golden,
		Notifications:       notifications,
		NotificationLatency: latency,
		HistoryAppendErrors: historyErrors,
		ManifestErrors:      manifestErrors,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
