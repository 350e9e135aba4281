package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Claim attempt outcomes.
const (
	ClaimWon   = "won"
	ClaimLost  = "lost"
	ClaimEmpty = "empty"
)

// ReservationMetrics tracks spot claims and reservation lifecycle calls.
type ReservationMetrics struct {
	claimAttempts *prometheus.CounterVec
	operations    *prometheus.CounterVec
	hoursCharged  prometheus.Histogram
}

// NewReservationMetrics registers reservation metrics on reg. A nil reg yields no-op metrics.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	claimAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spot_claim_attempts_total",
		Help:      "Conditional spot claim attempts by outcome.",
	}, []string{"outcome"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_operations_total",
		Help:      "Reserve and release calls by result code.",
	}, []string{"operation", "result"})
	hours := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reservation_hours_charged",
		Help:      "Hours billed per closed reservation.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 24, 48},
	})
	reg.MustRegister(claimAttempts, operations, hours)
	return &ReservationMetrics{claimAttempts: claimAttempts, operations: operations, hoursCharged: hours}
}

func (m *ReservationMetrics) ObserveClaim(outcome string) {
	if m == nil || m.claimAttempts == nil {
		return
	}
	m.claimAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveOperation counts a reserve/release call; result is "ok" or an error code.
func (m *ReservationMetrics) ObserveOperation(operation, result string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
}

func (m *ReservationMetrics) ObserveHoursCharged(hours int64) {
	if m == nil || m.hoursCharged == nil {
		return
	}
	m.hoursCharged.Observe(float64(hours))
}
