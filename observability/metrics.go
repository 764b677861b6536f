package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LoanMetrics records loan lifecycle activity and the escrow position of the
// registry vault.
type LoanMetrics struct {
	transitions *prometheus.CounterVec
	escrowedWei prometheus.Gauge
	rpcLatency  *prometheus.HistogramVec
}

var (
	loanMetricsOnce sync.Once
	loanRegistry    *LoanMetrics
)

// Metrics returns the lazily-initialised metrics registry shared by the engine
// wiring and the RPC server.
func Metrics() *LoanMetrics {
	loanMetricsOnce.Do(func() {
		loanRegistry = &LoanMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loanft",
				Subsystem: "registry",
				Name:      "transitions_total",
				Help:      "Loan state transitions segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			escrowedWei: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loanft",
				Subsystem: "registry",
				Name:      "escrowed_wei",
				Help:      "Native currency currently held by the registry vault.",
			}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loanft",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(loanRegistry.transitions, loanRegistry.escrowedWei, loanRegistry.rpcLatency)
	})
	return loanRegistry
}

// ObserveTransition counts one engine call by operation and outcome.
func (m *LoanMetrics) ObserveTransition(operation, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, outcome).Inc()
}

// SetEscrowed publishes the vault balance. Precision loss past float64 range
// is acceptable for monitoring purposes.
func (m *LoanMetrics) SetEscrowed(total *big.Int) {
	if m == nil || total == nil {
		return
	}
	value, _ := new(big.Float).SetInt(total).Float64()
	m.escrowedWei.Set(value)
}

// ObserveRPC records the handler latency for a JSON-RPC method.
func (m *LoanMetrics) ObserveRPC(method string, seconds float64) {
	if m == nil {
		return
	}
	m.rpcLatency.WithLabelValues(method).Observe(seconds)
}
