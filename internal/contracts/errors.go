package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrInvalidRange             = errors.New("invalid date range")
	ErrIncompleteObservationSet = errors.New("incomplete observation set")
	ErrQuotaExceeded            = errors.New("trend source quota exceeded")
)

// IncompleteObservationSetError is returned when a day is marked complete while
// some of the model's terms still lack an observation for it
type IncompleteObservationSetError struct {
	ModelID int
	Day     time.Time
	Have    int // distinct terms with an observation
	Want    int // terms configured for the model
}

func (e *IncompleteObservationSetError) Error() string {
	return fmt.Sprintf("incomplete observation set for model %d on %s: %d of %d terms present",
		e.ModelID, e.Day.Format(DateLayout), e.Have, e.Want)
}

// Is matches ErrIncompleteObservationSet
func (e *IncompleteObservationSetError) Is(target error) bool {
	return target == ErrIncompleteObservationSet
}

// QuotaExceededError carries the time at which the trend source accepts calls again
type QuotaExceededError struct {
	Reason   string
	ResumeAt time.Time
}

func (e *QuotaExceededError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "quota exceeded"
	}
	return fmt.Sprintf("%s: blocked until %s", reason, e.ResumeAt.Format(time.RFC3339))
}

// Is matches ErrQuotaExceeded
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
