// Package metrics provides Prometheus metrics for schema export and fetch runs.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// CRM metrics
	describeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfschema_describe_calls_total",
			Help: "Total number of object describe calls",
		},
		[]string{"status"},
	)

	describeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sfschema_describe_duration_seconds",
			Help:    "Object describe call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfschema_auth_attempts_total",
			Help: "Total CRM authentication attempts",
		},
		[]string{"result"},
	)

	// Export metrics
	documentsExportedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sfschema_documents_exported_total",
			Help: "Total schema documents uploaded",
		},
	)

	documentsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sfschema_documents_skipped_total",
			Help: "Total objects skipped because the CRM did not know them",
		},
	)

	documentFields = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sfschema_document_fields",
			Help:    "Number of fields per exported document, nested included",
			Buckets: prometheus.ExponentialBuckets(8, 2, 8),
		},
	)

	// Cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfschema_cache_lookups_total",
			Help: "Local cache lookups by result",
		},
		[]string{"result"},
	)

	cacheFilesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sfschema_cache_files_downloaded_total",
			Help: "Total files downloaded into the local cache",
		},
	)

	cacheBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sfschema_cache_bytes_downloaded_total",
			Help: "Total bytes downloaded into the local cache",
		},
	)

	// Blob store metrics
	blobOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sfschema_blob_operation_duration_seconds",
			Help:    "Blob store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	blobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfschema_blob_operations_total",
			Help: "Total blob store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// History metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sfschema_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordDescribe records an object describe call.
func RecordDescribe(duration time.Duration, result string) {
	describeDuration.Observe(duration.Seconds())
	describeCallsTotal.WithLabelValues(result).Inc()
}

// RecordAuthAttempt records a CRM authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordDocumentExported records an uploaded schema document.
func RecordDocumentExported(fields int) {
	documentsExportedTotal.Inc()
	documentFields.Observe(float64(fields))
}

// RecordDocumentSkipped records an object that was skipped.
func RecordDocumentSkipped() {
	documentsSkippedTotal.Inc()
}

// RecordCacheLookup records a cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheDownload records a file written into the local cache.
func RecordCacheDownload(bytes int64) {
	cacheFilesDownloaded.Inc()
	cacheBytesDownloaded.Add(float64(bytes))
}

// RecordBlobOperation records a blob store operation.
func RecordBlobOperation(backend, operation string, duration time.Duration, success bool) {
	blobOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	blobOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// Push sends every registered metric to a Prometheus Pushgateway under the
// given job name. The CLI calls it once at the end of a run.
func Push(gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
