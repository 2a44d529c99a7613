package contracts

import "time"

// DefaultRegion is the region code stored with scores computed from trend data
// restricted to England
const DefaultRegion = "e"

// Model is a named scoring configuration
type Model struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	SourceType  string           `json:"sourceType"`
	IsPublic    bool             `json:"isPublic"`
	IsDisplayed bool             `json:"isDisplayed"`
	RegionID    string           `json:"modelRegionId,omitempty"` // stable external-linkable region code
	Function    *ScoringFunction `json:"-"`
}

// ScoringFunction is the per-model scoring engine configuration
// ⭐ SSOT: window size 1 means raw observations, anything larger is a centred moving average
type ScoringFunction struct {
	ModelID               int
	FunctionName          string
	AverageWindowSize     int
	HasConfidenceInterval bool
}

// UsesMovingAverage reports whether observations are averaged before scoring
func (f *ScoringFunction) UsesMovingAverage() bool {
	return f.AverageWindowSize > 1
}

// TermValue is one (term, value) pair fed to the scoring engine
type TermValue struct {
	Term  string
	Value float64
}

// Point is a single daily value of a term as returned by the trend source
type Point struct {
	Date  time.Time
	Value float64
}

// TermSeries is the set of daily points fetched for one term
type TermSeries struct {
	Term   string
	Points []Point
}

// ConfidenceInterval holds the lower and upper bound of a score.
// A nil *ConfidenceInterval means the scoring function has none; it is never zero-filled.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Score is a computed model score with its optional confidence interval
type Score struct {
	Value    float64
	Interval *ConfidenceInterval
}

// ModelScore is a persisted score for a model on a day
type ModelScore struct {
	ModelID  int
	Day      time.Time
	Region   string
	Value    float64
	Interval *ConfidenceInterval
}

// ScorePoint is the latest (day, value) pair tracked by a run for notification
type ScorePoint struct {
	Day   time.Time
	Value float64
}
