package contracts

import (
	"context"
	"time"
)

// TrendSource fetches daily term observations from the external trend-data API
// ⭐ SSOT: trend source interface used by the pipeline
type TrendSource interface {
	// IsAcceptingCalls reports false while a quota cool-down is active
	IsAcceptingCalls() bool

	// Probe reports whether the source is authoritative for the end date
	Probe(ctx context.Context, end time.Time) (bool, error)

	// Fetch returns one series per term for [start, end]; empty means "not yet available"
	Fetch(ctx context.Context, terms []string, start, end time.Time) ([]TermSeries, error)
}

// Capabilities lists the operations a scoring engine can serve
type Capabilities struct {
	Score               bool
	ScoreWithConfidence bool
}

// Supports reports whether a function with or without a confidence interval can be scored
func (c Capabilities) Supports(withConfidence bool) bool {
	if withConfidence {
		return c.ScoreWithConfidence
	}
	return c.Score
}

// ScoringEngine turns ordered (term, value) observations into a score
// ⭐ SSOT: scoring engine interface used by the pipeline
type ScoringEngine interface {
	Name() string
	Capabilities() Capabilities
	Score(ctx context.Context, function string, observations []TermValue) (float64, error)
	ScoreWithConfidence(ctx context.Context, function string, observations []TermValue) (score, lower, upper float64, err error)
}

// Notifier delivers the latest score to a downstream subscriber
// ⭐ SSOT: notification sink interface used by the pipeline
type Notifier interface {
	Publish(ctx context.Context, day time.Time, value float64) error
}
