package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay outcomes for a single outbox row.
const (
	RelayPublished = "published"
	RelayRetry     = "retry"
	RelayParked    = "parked"
)

// RelayMetrics tracks how outbox rows leave the table.
type RelayMetrics struct {
	rows    *prometheus.CounterVec
	batches prometheus.Histogram
}

// NewRelayMetrics registers relay metrics on reg. A nil reg yields no-op metrics.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	m := &RelayMetrics{
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "rows_total",
			Help:      "Outbox rows handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_rows",
			Help:      "Rows claimed per non-empty relay batch.",
			Buckets:   prometheus.LinearBuckets(1, 10, 10),
		}),
	}
	reg.MustRegister(m.rows, m.batches)
	return m
}

func (m *RelayMetrics) ObserveRow(eventType, outcome string) {
	if m == nil || m.rows == nil {
		return
	}
	m.rows.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *RelayMetrics) ObserveBatch(rows int) {
	if m == nil || m.batches == nil || rows == 0 {
		return
	}
	m.batches.Observe(float64(rows))
}
