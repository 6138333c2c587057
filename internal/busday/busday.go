// Package busday maps timestamps onto cafe business days. The cafe closes
// after midnight, so sales rung up before 01:00 UTC belong to the previous
// calendar date. Timestamps between 01:00 and 08:00 UTC keep their own date;
// the cafe is closed then and nothing real lands in that window.
package busday

import "time"

// rolloverHour is the UTC hour before which a timestamp belongs to the
// previous business day.
const rolloverHour = 1

// openingHour is the UTC hour used as the representative instant of a
// business day.
const openingHour = 8

// DateOf returns the business-day bucket of an epoch-millisecond timestamp
// as "YYYY-MM-DD".
func DateOf(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	if t.Hour() < rolloverHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format("2006-01-02")
}

// StartOf returns 08:00 UTC of the timestamp's business day.
func StartOf(ms int64) time.Time {
	t := time.UnixMilli(ms).UTC()
	if t.Hour() < rolloverHour {
		t = t.AddDate(0, 0, -1)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), openingHour, 0, 0, 0, time.UTC)
}

// StartOfDate returns 08:00 UTC of a "YYYY-MM-DD" business date. Malformed
// dates return the zero time and false.
func StartOfDate(date string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), openingHour, 0, 0, 0, time.UTC), true
}

// Bounds returns the epoch-ms half-open interval [from, to) of timestamps
// that bucket into the given business date: 01:00 UTC on the date up to
// 01:00 UTC the next day.
func Bounds(date string) (int64, int64, bool) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, 0, false
	}
	from := time.Date(t.Year(), t.Month(), t.Day(), rolloverHour, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	return from.UnixMilli(), to.UnixMilli(), true
}

// HourOf returns the UTC hour of an epoch-millisecond timestamp. Hours 0
// through rolloverHour-1 land in the previous business day's late evening
// and are reported as 24+hour so histograms keep a day's trade contiguous.
func HourOf(ms int64) int {
	h := time.UnixMilli(ms).UTC().Hour()
	if h < rolloverHour {
		return 24 + h
	}
	return h
}
