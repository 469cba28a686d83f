package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	consensusConsiderTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qxchain",
		Subsystem: "consensus",
		Name:      "consider_total",
		Help:      "Count of candidate chains considered, by outcome.",
	}, []string{"outcome"})

	consensusConsiderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "consensus",
		Name:      "consider_duration_seconds",
		Help:      "Duration of candidate chain validation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	consensusCandidateLength = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "consensus",
		Name:      "candidate_length",
		Help:      "Block count of considered candidate chains.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"outcome"})
)

// Consensus tracks metrics for candidate chain resolution.
type Consensus struct{}

// NewConsensus creates a Consensus metrics collector.
func NewConsensus() *Consensus {
	return &Consensus{}
}

// ObserveConsider records the outcome, length, and duration of one
// candidate chain evaluation.
func (m Consensus) ObserveConsider(outcome string, candidateLength int, started time.Time) {
	if outcome == "" {
		outcome = "unknown"
	}
	consensusConsiderTotal.WithLabelValues(outcome).Inc()
	consensusConsiderDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	consensusCandidateLength.WithLabelValues(outcome).Observe(float64(candidateLength))
}
