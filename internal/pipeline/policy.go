package pipeline

import (
	"errors"
	"time"

	"github.com/wonny/fluscore/internal/batch"
	"github.com/wonny/fluscore/internal/contracts"
)

var (
	// ErrFetchFailed aborts a run when a planned batch came back empty
	ErrFetchFailed = errors.New("trend fetch returned no data")

	// ErrBacklogExceeded rejects a scheduled run whose last observation is too old
	ErrBacklogExceeded = errors.New("observation backlog exceeds scheduled run limit")

	// ErrEngineUnsupported aborts scoring when the engine lacks the needed operation
	ErrEngineUnsupported = errors.New("scoring engine does not support the model function")

	// ErrNonFiniteScore aborts scoring when the engine returned NaN or Inf
	ErrNonFiniteScore = errors.New("scoring engine returned a non-finite value")
)

// MaxBacklogDays bounds how far behind a scheduled run may start
const MaxBacklogDays = batch.MaxIntervalDays

// EndDate is the last day a run may request: today minus the freshness lag, in UTC
// ⭐ SSOT: both Run callers and RunScheduled derive the end date here
func EndDate(now time.Time, lagDays int) time.Time {
	return contracts.AddDays(contracts.Day(now.UTC()), -lagDays)
}
