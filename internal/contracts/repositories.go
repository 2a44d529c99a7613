package contracts

import (
	"context"
	"time"
)

// ⭐ SSOT: Repository interface definitions live here only

// Registry exposes the model and term configuration the pipeline reads
type Registry interface {
	HasModel(ctx context.Context, modelID int) (bool, error)
	Model(ctx context.Context, modelID int) (*Model, error)
	Models(ctx context.Context, publicOnly bool) ([]*Model, error)
	DefaultModelID(ctx context.Context) (int, error)
	TermsForModel(ctx context.Context, modelID int) ([]string, error)
	ScoringConfig(ctx context.Context, modelID int) (*ScoringFunction, error)
	LastObservationDay(ctx context.Context, modelID int) (time.Time, error)
}

// ObservationStore persists trend observations and completion markers
type ObservationStore interface {
	CompletedDays(ctx context.Context, modelID int, start, end time.Time) ([]time.Time, error)
	RecordObservation(ctx context.Context, term string, day time.Time, value float64) error
	MarkObservationDayComplete(ctx context.Context, modelID int, day time.Time) error
	TermValues(ctx context.Context, modelID int, day time.Time) ([]TermValue, error)
	TermAverages(ctx context.Context, modelID int, center time.Time, window int) ([]TermValue, error)
}

// ScoreStore persists computed model scores
type ScoreStore interface {
	ScoredDays(ctx context.Context, modelID int, start, end time.Time) ([]time.Time, error)
	LastScoreDay(ctx context.Context, modelID int) (time.Time, error)
	RecordScore(ctx context.Context, modelID int, day time.Time, score Score) error
	Scores(ctx context.Context, modelID int, start, end time.Time) ([]*ModelScore, error)
}

// Store is everything the pipeline needs from storage
type Store interface {
	Registry
	ObservationStore
	ScoreStore
}
