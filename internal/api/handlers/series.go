package handlers

import (
	"time"

	"github.com/wonny/fluscore/internal/contracts"
)

// Datapoint is one served day of a score series.
// The bounds are present only when the score (or every score it averages) has them.
type Datapoint struct {
	Date  string   `json:"score_date"`
	Value float64  `json:"score_value"`
	Upper *float64 `json:"confidence_interval_upper,omitempty"`
	Lower *float64 `json:"confidence_interval_lower,omitempty"`

	day time.Time
	raw float64
}

// ExpandForSmoothing widens rng so every day inside it has its full window available
func ExpandForSmoothing(rng contracts.DateRange, window int) contracts.DateRange {
	return contracts.DateRange{
		Start: contracts.WindowAround(rng.Start, window).Start,
		End:   contracts.WindowAround(rng.End, window).End,
	}
}

// Smooth builds the datapoints of the scores that fall inside rng.
// A window above 1 replaces each value by the mean over its symmetric window
// of days; scores outside rng still contribute to the windows at its edges.
func Smooth(scores []*contracts.ModelScore, rng contracts.DateRange, window int) []Datapoint {
	byDay := make(map[time.Time]*contracts.ModelScore, len(scores))
	for _, s := range scores {
		byDay[contracts.Day(s.Day)] = s
	}

	points := make([]Datapoint, 0, len(scores))
	for _, s := range scores {
		day := contracts.Day(s.Day)
		if !rng.Contains(day) {
			continue
		}

		dp := Datapoint{Date: day.Format(contracts.DateLayout), day: day, raw: s.Value}
		if window <= 1 {
			dp.Value = s.Value
			if s.Interval != nil {
				dp.Upper, dp.Lower = float64Ptr(s.Interval.Upper), float64Ptr(s.Interval.Lower)
			}
			points = append(points, dp)
			continue
		}

		var sum, upper, lower float64
		n, withCI := 0, true
		for _, d := range contracts.WindowAround(day, window).Days() {
			ws, ok := byDay[d]
			if !ok {
				continue
			}
			sum += ws.Value
			n++
			if ws.Interval == nil {
				withCI = false
				continue
			}
			upper += ws.Interval.Upper
			lower += ws.Interval.Lower
		}
		dp.Value = sum / float64(n)
		if withCI {
			dp.Upper, dp.Lower = float64Ptr(upper/float64(n)), float64Ptr(lower/float64(n))
		}
		points = append(points, dp)
	}
	return points
}

// WeeklyOnly keeps the Sunday datapoints
func WeeklyOnly(points []Datapoint) []Datapoint {
	out := make([]Datapoint, 0, len(points)/7+1)
	for _, p := range points {
		if p.day.Weekday() == time.Sunday {
			out = append(out, p)
		}
	}
	return out
}

// AverageScore is the mean of the unsmoothed values behind points, nil when empty
func AverageScore(points []Datapoint) *float64 {
	if len(points) == 0 {
		return nil
	}
	sum := 0.0
	for _, p := range points {
		sum += p.raw
	}
	return float64Ptr(sum / float64(len(points)))
}

func float64Ptr(v float64) *float64 {
	return &v
}
