package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidsecure_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Ingestion Metrics
	UploadsInitiatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsecure_uploads_initiated_total",
			Help: "Total number of uploads initiated",
		},
	)

	UploadsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_uploads_rejected_total",
			Help: "Total number of uploads rejected before persistence",
		},
		[]string{"reason"},
	)

	UploadChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_upload_chunks_total",
			Help: "Total number of chunk writes",
		},
		[]string{"outcome"},
	)

	UploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidsecure_upload_size_bytes",
			Help:    "Declared size of uploaded videos in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 15), // 1MB to 16GB
		},
	)

	UploadsAbandonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsecure_uploads_abandoned_total",
			Help: "Total number of uploads reaped after stalling",
		},
	)

	// Job Metrics
	JobsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsecure_jobs_enqueued_total",
			Help: "Total number of classification jobs enqueued",
		},
	)

	JobsRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsecure_jobs_retried_total",
			Help: "Total number of classification jobs sent back for retry",
		},
	)

	JobsDeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsecure_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue",
		},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidsecure_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidsecure_jobs_queue_depth",
			Help: "Number of jobs waiting in queue",
		},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidsecure_job_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
	)

	// Classifier Metrics
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_classifier_verdicts_total",
			Help: "Total number of classifier verdicts by outcome",
		},
		[]string{"verdict"},
	)

	VerdictConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidsecure_classifier_confidence",
			Help:    "Classifier confidence scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	ClassifierErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_classifier_errors_total",
			Help: "Total number of classifier failures",
		},
		[]string{"kind"},
	)

	// Lifecycle Metrics
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_transitions_total",
			Help: "Total number of committed status transitions",
		},
		[]string{"from", "to"},
	)

	OrderingConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_ordering_conflicts_total",
			Help: "Total number of discarded late or duplicate events",
		},
		[]string{"event"},
	)

	// Notification Metrics
	EventsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsecure_events_published_total",
			Help: "Total number of events published to the hub",
		},
	)

	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidsecure_events_dropped_total",
			Help: "Total number of events dropped on slow subscribers",
		},
	)

	SubscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vidsecure_subscribers_active",
			Help: "Number of connected event subscribers",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidsecure_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vidsecure_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)
)

// RecordHTTPRequest records an HTTP request observation
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordUploadRejected records an upload rejected before persistence
func RecordUploadRejected(reason string) {
	UploadsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordChunk records the outcome of one chunk write
func RecordChunk(outcome string) {
	UploadChunksTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition records a committed status transition
func RecordTransition(from, to string) {
	TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordOrderingConflict records a discarded late or duplicate event
func RecordOrderingConflict(event string) {
	OrderingConflictsTotal.WithLabelValues(event).Inc()
}

// RecordVerdict records a classifier verdict
func RecordVerdict(verdict string, confidence float64) {
	VerdictsTotal.WithLabelValues(verdict).Inc()
	VerdictConfidence.Observe(confidence)
}

// RecordClassifierError records a classifier failure by kind
func RecordClassifierError(kind string) {
	ClassifierErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordStorageOperation records a storage operation observation
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}
