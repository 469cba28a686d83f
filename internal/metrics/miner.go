package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	minerAssembleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qxchain",
		Subsystem: "miner",
		Name:      "assemble_total",
		Help:      "Count of candidate blocks assembled.",
	})

	minerAssembleTransactions = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "miner",
		Name:      "assemble_transactions",
		Help:      "Transactions included per assembled block, reward excluded.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	minerSearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qxchain",
		Subsystem: "miner",
		Name:      "search_total",
		Help:      "Count of nonce searches by outcome.",
	}, []string{"outcome"})

	minerSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "miner",
		Name:      "search_duration_seconds",
		Help:      "Duration of nonce searches.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30},
	}, []string{"outcome"})

	minerSearchAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "qxchain",
		Subsystem: "miner",
		Name:      "search_attempts",
		Help:      "Nonce attempts per search.",
		Buckets:   prometheus.ExponentialBuckets(64, 4, 12),
	}, []string{"outcome"})
)

// Miner tracks metrics for the mining engine.
type Miner struct{}

// NewMiner creates a Miner metrics collector.
func NewMiner() *Miner {
	return &Miner{}
}

// ObserveAssemble records a block assembly and its transaction count.
func (m Miner) ObserveAssemble(txCount int) {
	minerAssembleTotal.Inc()
	minerAssembleTransactions.Observe(float64(txCount))
}

// ObserveSearch records a nonce search outcome, attempt count, and duration.
func (m Miner) ObserveSearch(outcome string, attempts uint64, started time.Time) {
	if outcome == "" {
		outcome = "unknown"
	}
	minerSearchTotal.WithLabelValues(outcome).Inc()
	minerSearchDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	minerSearchAttempts.WithLabelValues(outcome).Observe(float64(attempts))
}
