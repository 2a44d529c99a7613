package contracts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange(t *testing.T) {
	r := NewDateRange(time.Date(2018, 1, 30, 15, 4, 0, 0, time.UTC), DateOf(2018, time.February, 2))

	assert.Equal(t, DateOf(2018, time.January, 30), r.Start)
	assert.Equal(t, 4, r.Span())
	assert.Len(t, r.Days(), 4)
	assert.True(t, r.Contains(DateOf(2018, time.February, 1)))
	assert.False(t, r.Contains(DateOf(2018, time.February, 3)))
	assert.Equal(t, "2018-01-30..2018-02-02", r.String())
	assert.NoError(t, r.Validate())

	inverted := DateRange{Start: r.End, End: r.Start}
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidRange)
	assert.Empty(t, inverted.Days())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2018-06-10")
	require.NoError(t, err)
	assert.Equal(t, DateOf(2018, time.June, 10), d)

	_, err = ParseDate("10/06/2018")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 0, DaysBetween(DateOf(2018, time.March, 25), DateOf(2018, time.March, 25)))
	assert.Equal(t, 65, DaysBetween(DateOf(2018, time.January, 1), DateOf(2018, time.March, 7)))
	assert.Equal(t, -1, DaysBetween(DateOf(2018, time.March, 2), DateOf(2018, time.March, 1)))
}

func TestWindowAround(t *testing.T) {
	center := DateOf(2018, time.June, 10)

	tests := []struct {
		window    int
		wantStart time.Time
		wantEnd   time.Time
	}{
		{0, center, center},
		{1, center, center},
		{2, center, center},
		{3, DateOf(2018, time.June, 9), DateOf(2018, time.June, 11)},
		{4, DateOf(2018, time.June, 9), DateOf(2018, time.June, 11)},
		{7, DateOf(2018, time.June, 7), DateOf(2018, time.June, 13)},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("window %d", tt.window), func(t *testing.T) {
			r := WindowAround(center, tt.window)
			assert.Equal(t, tt.wantStart, r.Start)
			assert.Equal(t, tt.wantEnd, r.End)
		})
	}
}

func TestTypedErrors(t *testing.T) {
	incomplete := fmt.Errorf("verify: %w", &IncompleteObservationSetError{
		ModelID: 1, Day: DateOf(2018, time.January, 4), Have: 1, Want: 2,
	})
	assert.ErrorIs(t, incomplete, ErrIncompleteObservationSet)
	assert.Contains(t, incomplete.Error(), "1 of 2 terms")

	var typed *IncompleteObservationSetError
	require.True(t, errors.As(incomplete, &typed))
	assert.Equal(t, 2, typed.Want)

	quota := &QuotaExceededError{Reason: "dailyLimitExceeded", ResumeAt: DateOf(2018, time.January, 2)}
	assert.ErrorIs(t, quota, ErrQuotaExceeded)
	assert.False(t, errors.Is(quota, ErrIncompleteObservationSet))
	assert.Contains(t, quota.Error(), "2018-01-02T00:00:00Z")
}

func TestCapabilities(t *testing.T) {
	full := Capabilities{Score: true, ScoreWithConfidence: true}
	assert.True(t, full.Supports(false))
	assert.True(t, full.Supports(true))

	none := Capabilities{}
	assert.False(t, none.Supports(false))
	assert.False(t, none.Supports(true))
}

func TestScoringFunction_UsesMovingAverage(t *testing.T) {
	assert.False(t, (&ScoringFunction{AverageWindowSize: 1}).UsesMovingAverage())
	assert.True(t, (&ScoringFunction{AverageWindowSize: 7}).UsesMovingAverage())
}
