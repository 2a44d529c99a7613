package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/fluscore/internal/contracts"
)

func june(day int) time.Time {
	return contracts.DateOf(2018, time.June, day)
}

func newModelStore(t *testing.T, window int, terms ...string) (*Store, int) {
	t.Helper()
	s := New()
	id := s.AddModel(contracts.Model{
		Name:       "Google v2018.07",
		SourceType: "google",
		IsPublic:   true,
		Function: &contracts.ScoringFunction{
			FunctionName:      "fluModel",
			AverageWindowSize: window,
		},
	}, terms)
	return s, id
}

func TestRecordObservation_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newModelStore(t, 1, "a flu")

	require.NoError(t, s.RecordObservation(ctx, "a flu", june(1), 4.2))
	require.NoError(t, s.RecordObservation(ctx, "a flu", june(1), 4.2))
	// a re-fetch with a different value never overwrites
	require.NoError(t, s.RecordObservation(ctx, "a flu", june(1), 9.9))

	assert.Equal(t, 1, s.ObservationCount())
	assert.Equal(t, 1, s.ObservationWrites())

	values, err := s.TermValues(ctx, 1, june(1))
	require.NoError(t, err)
	assert.Equal(t, []contracts.TermValue{{Term: "a flu", Value: 4.2}}, values)
}

func TestRecordObservation_UnknownTerm(t *testing.T) {
	s, _ := newModelStore(t, 1, "a flu")

	err := s.RecordObservation(context.Background(), "not tracked", june(1), 1)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestMarkObservationDayComplete_Invariant(t *testing.T) {
	terms := []string{"a flu", "flu season", "fever"}

	// every strict subset of terms is a partial configuration
	for mask := 0; mask < 1<<len(terms)-1; mask++ {
		ctx := context.Background()
		s, id := newModelStore(t, 1, terms...)

		present := 0
		for i, term := range terms {
			if mask&(1<<i) != 0 {
				require.NoError(t, s.RecordObservation(ctx, term, june(5), float64(i)))
				present++
			}
		}

		err := s.MarkObservationDayComplete(ctx, id, june(5))
		require.ErrorIs(t, err, contracts.ErrIncompleteObservationSet, "mask %b", mask)

		var typed *contracts.IncompleteObservationSetError
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, present, typed.Have)
		assert.Equal(t, len(terms), typed.Want)

		days, err := s.CompletedDays(ctx, id, june(1), june(30))
		require.NoError(t, err)
		assert.Empty(t, days, "no marker may be written for mask %b", mask)
	}
}

func TestMarkObservationDayComplete_Complete(t *testing.T) {
	ctx := context.Background()
	s, id := newModelStore(t, 1, "a flu", "flu season")

	require.NoError(t, s.RecordObservation(ctx, "a flu", june(5), 1))
	require.NoError(t, s.RecordObservation(ctx, "flu season", june(5), 2))

	require.NoError(t, s.MarkObservationDayComplete(ctx, id, june(5)))
	// re-marking is a no-op
	require.NoError(t, s.MarkObservationDayComplete(ctx, id, june(5)))

	days, err := s.CompletedDays(ctx, id, june(1), june(30))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{june(5)}, days)

	last, err := s.LastObservationDay(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, june(5), last)
}

func TestMarkObservationDayComplete_SharedTerms(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := s.AddModel(contracts.Model{Name: "a"}, []string{"a flu", "fever"})
	b := s.AddModel(contracts.Model{Name: "b"}, []string{"fever"})

	require.NoError(t, s.RecordObservation(ctx, "fever", june(2), 3))

	assert.NoError(t, s.MarkObservationDayComplete(ctx, b, june(2)))
	assert.ErrorIs(t, s.MarkObservationDayComplete(ctx, a, june(2)), contracts.ErrIncompleteObservationSet)
}

func TestTermAverages_MovingAverageScenario(t *testing.T) {
	ctx := context.Background()
	s, id := newModelStore(t, 3, "a flu", "flu season")

	for day := 1; day <= 29; day++ {
		v := 1 + 10/float64(day)
		require.NoError(t, s.RecordObservation(ctx, "a flu", june(day), v))
		require.NoError(t, s.RecordObservation(ctx, "flu season", june(day), 2*v))
	}

	averages, err := s.TermAverages(ctx, id, june(10), 3)
	require.NoError(t, err)

	want := ((1 + 10.0/9) + (1 + 10.0/10) + (1 + 10.0/11)) / 3
	require.Len(t, averages, 2)
	assert.Equal(t, "a flu", averages[0].Term)
	assert.InDelta(t, want, averages[0].Value, 1e-12)
	assert.Equal(t, "flu season", averages[1].Term)
	assert.InDelta(t, 2*want, averages[1].Value, 1e-12)
}

func TestTermAverages_WindowOneIsRaw(t *testing.T) {
	ctx := context.Background()
	s, id := newModelStore(t, 1, "a flu")

	for day := 1; day <= 3; day++ {
		require.NoError(t, s.RecordObservation(ctx, "a flu", june(day), float64(day)))
	}

	averages, err := s.TermAverages(ctx, id, june(2), 1)
	require.NoError(t, err)
	raw, err := s.TermValues(ctx, id, june(2))
	require.NoError(t, err)
	assert.Equal(t, raw, averages)
}

func TestRecordScore(t *testing.T) {
	ctx := context.Background()
	s, id := newModelStore(t, 1, "a flu")

	_, err := s.LastScoreDay(ctx, id)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	require.NoError(t, s.RecordScore(ctx, id, june(3), contracts.Score{Value: 12.5}))
	require.NoError(t, s.RecordScore(ctx, id, june(1), contracts.Score{
		Value:    10,
		Interval: &contracts.ConfidenceInterval{Lower: 8, Upper: 12},
	}))
	assert.Error(t, s.RecordScore(ctx, id, june(3), contracts.Score{Value: 1}))

	scores, err := s.Scores(ctx, id, june(1), june(30))
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, june(1), scores[0].Day)
	assert.Equal(t, contracts.DefaultRegion, scores[0].Region)
	require.NotNil(t, scores[0].Interval)
	assert.Equal(t, 8.0, scores[0].Interval.Lower)
	assert.Nil(t, scores[1].Interval, "no interval must stay absent")

	days, err := s.ScoredDays(ctx, id, june(2), june(30))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{june(3)}, days)

	last, err := s.LastScoreDay(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, june(3), last)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	s := New()
	public := s.AddModel(contracts.Model{Name: "public", IsPublic: true, Function: &contracts.ScoringFunction{
		FunctionName: "fluModel", AverageWindowSize: 7, HasConfidenceInterval: true,
	}}, []string{"b", "a", "b"})
	private := s.AddModel(contracts.Model{Name: "private"}, []string{"c"})

	ok, err := s.HasModel(ctx, public)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasModel(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)

	terms, err := s.TermsForModel(ctx, public)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, terms)

	fn, err := s.ScoringConfig(ctx, public)
	require.NoError(t, err)
	assert.Equal(t, public, fn.ModelID)
	assert.Equal(t, 7, fn.AverageWindowSize)
	assert.True(t, fn.HasConfidenceInterval)

	_, err = s.ScoringConfig(ctx, private)
	assert.ErrorIs(t, err, contracts.ErrNotFound)

	models, err := s.Models(ctx, true)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "public", models[0].Name)

	all, err := s.Models(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.DefaultModelID(ctx)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	s.SetDefaultModel(public)
	def, err := s.DefaultModelID(ctx)
	require.NoError(t, err)
	assert.Equal(t, public, def)

	_, err = s.LastObservationDay(ctx, public)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}
