package trends

import (
	"fmt"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
)

// PointDateLayout is the date format of timeline points ("Jul 01 2018")
const PointDateLayout = "Jan 02 2006"

// Quota reasons reported in the error body
const (
	ReasonDailyLimitExceeded = "dailyLimitExceeded"
	ReasonRateLimitExceeded  = "rateLimitExceeded"
	ReasonQuotaExceeded      = "quotaExceeded"
)

// timelineResponse is the body of a successful timelinesForHealth call
type timelineResponse struct {
	Lines []timelineLine `json:"lines"`
}

type timelineLine struct {
	Term   string          `json:"term"`
	Points []timelinePoint `json:"points"`
}

type timelinePoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// errorResponse is the body of a failed call
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Domain  string `json:"domain"`
			Reason  string `json:"reason"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// quotaReason returns the first quota-related reason, if any
func (e errorResponse) quotaReason() (string, bool) {
	for _, item := range e.Error.Errors {
		switch item.Reason {
		case ReasonDailyLimitExceeded, ReasonRateLimitExceeded, ReasonQuotaExceeded:
			return item.Reason, true
		}
	}
	return "", false
}

// toSeries converts the wire lines into day-keyed series
func (r timelineResponse) toSeries() ([]contracts.TermSeries, error) {
	out := make([]contracts.TermSeries, 0, len(r.Lines))
	for _, line := range r.Lines {
		series := contracts.TermSeries{
			Term:   line.Term,
			Points: make([]contracts.Point, 0, len(line.Points)),
		}
		for _, p := range line.Points {
			day, err := time.Parse(PointDateLayout, p.Date)
			if err != nil {
				return nil, fmt.Errorf("term %q: point date %q: %w", line.Term, p.Date, err)
			}
			series.Points = append(series.Points, contracts.Point{Date: contracts.Day(day), Value: p.Value})
		}
		out = append(out, series)
	}
	return out, nil
}
