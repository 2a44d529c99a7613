package gaps

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/logger"
)

// CompletionSource lists the days whose observation set is complete
type CompletionSource interface {
	CompletedDays(ctx context.Context, modelID int, start, end time.Time) ([]time.Time, error)
}

// ScoreSource lists the days that already have a model score
type ScoreSource interface {
	ScoredDays(ctx context.Context, modelID int, start, end time.Time) ([]time.Time, error)
}

// Detector finds the days of a range still missing observations or scores
// ⭐ SSOT: gap detection for the pipeline lives here only
type Detector struct {
	completions CompletionSource
	scores      ScoreSource
	logger      *logger.Logger
}

// NewDetector creates a new gap detector
func NewDetector(completions CompletionSource, scores ScoreSource, log *logger.Logger) *Detector {
	return &Detector{
		completions: completions,
		scores:      scores,
		logger:      log.WithField("module", "gaps"),
	}
}

// MissingObservationRanges returns the contiguous ranges and the flat list of days in
// [start, end] that have no completion marker for the model.
// When no marker exists in the range the whole request comes back as one range.
func (d *Detector) MissingObservationRanges(ctx context.Context, modelID int, start, end time.Time) ([]contracts.DateRange, []time.Time, error) {
	rng := contracts.NewDateRange(start, end)
	if err := rng.Validate(); err != nil {
		return nil, nil, err
	}

	completed, err := d.completions.CompletedDays(ctx, modelID, rng.Start, rng.End)
	if err != nil {
		return nil, nil, fmt.Errorf("completed days for model %d: %w", modelID, err)
	}

	if len(completed) == 0 {
		d.logger.WithFields(map[string]interface{}{
			"model_id": modelID,
			"range":    rng.String(),
		}).Debug("No completion markers in range")
		return []contracts.DateRange{rng}, rng.Days(), nil
	}

	missing := Missing(rng, completed)
	if len(missing) == 0 {
		return []contracts.DateRange{}, []time.Time{}, nil
	}
	return Ranges(missing), missing, nil
}

// MissingScoreDates returns the sorted days in [start, end] without a model score
func (d *Detector) MissingScoreDates(ctx context.Context, modelID int, start, end time.Time) ([]time.Time, error) {
	rng := contracts.NewDateRange(start, end)
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	scored, err := d.scores.ScoredDays(ctx, modelID, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("scored days for model %d: %w", modelID, err)
	}
	return Missing(rng, scored), nil
}
