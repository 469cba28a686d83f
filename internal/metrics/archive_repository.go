package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	archiveRepositoryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qxchain",
		Subsystem: "archive_repository",
		Name:      "operations_total",
		Help:      "Count of archive repository operations.",
	}, []string{"operation", "status"})

	archiveRepositoryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "archive_repository",
		Name:      "operation_duration_seconds",
		Help:      "Duration of archive repository operations.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30},
	}, []string{"operation", "status"})

	archiveBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "archive_repository",
		Name:      "batch_size",
		Help:      "Blocks written per archive batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// ArchiveRepository tracks metrics for archive storage operations.
type ArchiveRepository struct{}

// NewArchiveRepository creates an ArchiveRepository metrics collector.
func NewArchiveRepository() *ArchiveRepository {
	return &ArchiveRepository{}
}

// Observe records duration and status of a repository operation.
func (m ArchiveRepository) Observe(operation string, err error, started time.Time) {
	status := "success"
	if err != nil {
		status = "error"
	}
	archiveRepositoryRequestsTotal.WithLabelValues(operation, status).Inc()
	archiveRepositoryRequestDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}

// ObserveBatch records the size of a flushed archive batch.
func (m ArchiveRepository) ObserveBatch(blocks int) {
	archiveBatchSize.Observe(float64(blocks))
}
