package contracts

import (
	"fmt"
	"time"
)

// DateLayout is the ISO 8601 calendar-day layout used across the API, CLI and storage
const DateLayout = "2006-01-02"

// Day truncates t to its calendar day at UTC midnight.
// ⭐ SSOT: every day value in the pipeline goes through Day so map keys and comparisons agree
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateOf builds a calendar day
func DateOf(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a calendar day
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// AddDays shifts a calendar day by n days
func AddDays(day time.Time, n int) time.Time {
	return Day(day).AddDate(0, 0, n)
}

// DaysBetween returns the number of whole days from a to b (negative if b is before a)
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// DateRange is an inclusive range of calendar days
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalizes both ends to calendar days
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Validate rejects ranges whose start is after the end
func (r DateRange) Validate() error {
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// Span returns the number of days in the range, both ends included
func (r DateRange) Span() int {
	return DaysBetween(r.Start, r.End) + 1
}

// Days lists every day in the range in ascending order
func (r DateRange) Days() []time.Time {
	if r.Start.After(r.End) {
		return nil
	}
	days := make([]time.Time, 0, r.Span())
	for d := Day(r.Start); !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Contains reports whether day falls inside the range
func (r DateRange) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// WindowAround returns the symmetric moving-average window centred on day.
// An even window rounds down to the next odd size; anything below 1 is treated as 1.
func WindowAround(day time.Time, window int) DateRange {
	half := 0
	if window > 1 {
		half = (window - 1) / 2
	}
	return DateRange{Start: AddDays(day, -half), End: AddDays(day, half)}
}
