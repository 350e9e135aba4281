package analytics

import (
	"time"

	"github.com/parkez/parkez-backend/internal/analytics/types"
)

const dayLayout = "2006-01-02"

// windowStart returns UTC midnight of the first day in a window of days
// ending on now's day.
func windowStart(now time.Time, days int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
}

// DailyCounts buckets starts by UTC day over the window, zero-filling days
// without reservations. Starts outside the window are ignored.
func DailyCounts(now time.Time, days int, starts []time.Time) []types.TimeSeriesPoint {
	if days <= 0 {
		return nil
	}
	from := windowStart(now, days)
	counts := make(map[string]int64, days)
	for _, s := range starts {
		s = s.UTC()
		if s.Before(from) {
			continue
		}
		counts[s.Format(dayLayout)]++
	}
	out := make([]types.TimeSeriesPoint, 0, days)
	for i := 0; i < days; i++ {
		day := from.AddDate(0, 0, i).Format(dayLayout)
		out = append(out, types.TimeSeriesPoint{Date: day, Value: counts[day]})
	}
	return out
}
