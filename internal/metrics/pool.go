package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var poolPendingCount = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "qxchain",
	Subsystem: "pool",
	Name:      "pending_transactions",
	Help:      "Transactions currently queued for mining.",
})

// Pool tracks the pending transaction pool.
type Pool struct{}

// NewPool creates a Pool metrics collector.
func NewPool() *Pool {
	return &Pool{}
}

// SetPendingCount records the current pool size.
func (m Pool) SetPendingCount(n int) {
	poolPendingCount.Set(float64(n))
}
