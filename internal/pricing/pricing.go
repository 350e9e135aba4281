// Package pricing turns a reservation's time span into billable hours and cost.
// Partial hours always round up.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

const secondsPerHour = 3600

// Charge is the billable breakdown of one reservation.
type Charge struct {
	DurationSeconds int64           `json:"duration_seconds"`
	HoursCharged    int64           `json:"hours_charged"`
	Cost            decimal.Decimal `json:"cost"`
}

// Compute prices the span from start to end. It reports false when either
// timestamp is missing, in which case there is nothing to charge. Durations
// count whole seconds, so a span shorter than a second is free.
func Compute(start, end *time.Time, hourlyRate decimal.Decimal) (Charge, bool) {
	if start == nil || end == nil {
		return Charge{}, false
	}
	seconds := int64(end.Sub(*start) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	hours := HoursFor(seconds)
	return Charge{
		DurationSeconds: seconds,
		HoursCharged:    hours,
		Cost:            hourlyRate.Mul(decimal.NewFromInt(hours)),
	}, true
}

// Estimate prices an open reservation as if it ended at now. Estimates are
// for display only and must never be persisted.
func Estimate(start *time.Time, hourlyRate decimal.Decimal, now time.Time) (Charge, bool) {
	return Compute(start, &now, hourlyRate)
}

// HoursFor rounds a duration in seconds up to whole hours.
func HoursFor(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + secondsPerHour - 1) / secondsPerHour
}
