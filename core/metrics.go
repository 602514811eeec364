package core

// metrics.go – optional Prometheus instrumentation, gated by
// XLN_ENABLE_METRICS, adapted from core/system_health_logging.go's
// HealthLogger (which wires a handful of prometheus gauges/counters
// behind a single struct constructed once at startup) narrowed to the
// four counters this core can report without a wider observability
// module of its own.

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the tick-level counters an operator dashboard scrapes.
// A nil *Metrics is valid everywhere it's used; callers check for nil
// rather than carrying an XLN_ENABLE_METRICS flag through every layer.
type Metrics struct {
	Height        prometheus.Gauge
	MempoolDepth  prometheus.Gauge
	RollbackTotal prometheus.Counter
	WALSequence   prometheus.Gauge
}

// NewMetrics registers and returns a Metrics instance on reg. Callers
// only do this when XLN_ENABLE_METRICS is set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xln_tick_height",
			Help: "Current scheduler tick height.",
		}),
		MempoolDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xln_mempool_depth",
			Help: "Aggregate entity-tx mempool depth across all replicas.",
		}),
		RollbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xln_account_rollback_total",
			Help: "Total account frame rollbacks due to concurrent-proposal conflicts.",
		}),
		WALSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "xln_wal_sequence",
			Help: "Next WAL sequence id to be written.",
		}),
	}
	reg.MustRegister(m.Height, m.MempoolDepth, m.RollbackTotal, m.WALSequence)
	return m
}

func (m *Metrics) SetHeight(h uint64) {
	if m == nil {
		return
	}
	m.Height.Set(float64(h))
}

func (m *Metrics) SetMempoolDepth(n int) {
	if m == nil {
		return
	}
	m.MempoolDepth.Set(float64(n))
}

func (m *Metrics) IncRollback() {
	if m == nil {
		return
	}
	m.RollbackTotal.Inc()
}

func (m *Metrics) SetWALSequence(seq uint64) {
	if m == nil {
		return
	}
	m.WALSequence.Set(float64(seq))
}
