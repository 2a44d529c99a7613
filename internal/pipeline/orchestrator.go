// Package pipeline runs score collection for a model and date range:
// gap detection, trend fetch, completeness marking, scoring and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/fluscore/internal/batch"
	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/internal/gaps"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
)

// Options tunes an Orchestrator
type Options struct {
	// LagDays feeds EndDate for scheduled runs
	LagDays int

	// NotifyModelID is the only model whose latest score is published; 0 disables
	NotifyModelID int

	Metrics *metrics.Manager

	// Now replaces the wall clock
	Now func() time.Time

	// OnScoresRecorded runs after a run persisted at least one score
	OnScoresRecorded func(ctx context.Context, modelID int)
}

// Orchestrator coordinates the score collection steps for one model at a time
// ⭐ SSOT: run sequencing lives here only
type Orchestrator struct {
	store    contracts.Store
	detector *gaps.Detector
	trends   contracts.TrendSource
	engine   contracts.ScoringEngine
	notifier contracts.Notifier
	opts     Options
	logger   *logger.Logger
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(
	store contracts.Store,
	trends contracts.TrendSource,
	engine contracts.ScoringEngine,
	notifier contracts.Notifier,
	opts Options,
	log *logger.Logger,
) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:    store,
		detector: gaps.NewDetector(store, store, log),
		trends:   trends,
		engine:   engine,
		notifier: notifier,
		opts:     opts,
		logger:   log.WithField("module", "pipeline"),
	}
}

// run carries the state of one model run
type run struct {
	result *contracts.RunResult
	log    *logger.Logger
	terms  []string
	fn     *contracts.ScoringFunction
}

// Run fills observations and scores for modelID over [start, end].
// A Blocked outcome is not an error; Aborted always comes with one.
func (o *Orchestrator) Run(ctx context.Context, modelID int, start, end time.Time) (*contracts.RunResult, error) {
	rng := contracts.NewDateRange(start, end)
	return o.run(ctx, modelID, &rng, rng)
}

// run fills observations over obs, skipped when nil, then scores over scores
func (o *Orchestrator) run(ctx context.Context, modelID int, obs *contracts.DateRange, scores contracts.DateRange) (*contracts.RunResult, error) {
	startTime := time.Now()

	r := &run{
		result: &contracts.RunResult{
			RunID:      uuid.NewString(),
			ModelID:    modelID,
			Range:      scores,
			ScoreRange: scores,
		},
	}
	if obs != nil {
		r.result.Range = *obs
	} else {
		r.result.ObservationsSkipped = true
	}
	r.log = o.logger.WithFields(map[string]interface{}{
		"run_id":      r.result.RunID,
		"model_id":    modelID,
		"start":       r.result.Range.Start.Format(contracts.DateLayout),
		"end":         r.result.Range.End.Format(contracts.DateLayout),
		"score_start": scores.Start.Format(contracts.DateLayout),
	})
	r.log.Info("Starting score collection run")

	err := o.execute(ctx, r)

	r.result.DurationMillis = time.Since(startTime).Milliseconds()
	if err != nil {
		r.result.Outcome = contracts.OutcomeAborted
		r.result.Error = err.Error()
		r.log.WithError(err).WithField("step", r.result.FailedStep.String()).Error("Run aborted")
	} else {
		r.log.WithFields(map[string]interface{}{
			"outcome":         r.result.Outcome.String(),
			"batches":         r.result.BatchesFetched,
			"days_completed":  r.result.DaysCompleted,
			"scores_computed": r.result.ScoresComputed,
			"scores_deferred": r.result.ScoresDeferred,
			"duration_ms":     r.result.DurationMillis,
		}).Info("Run finished")
	}
	o.opts.Metrics.RecordRun(strconv.Itoa(modelID), r.result.Outcome.String(), time.Since(startTime))

	if r.result.ScoresComputed > 0 && o.opts.OnScoresRecorded != nil {
		o.opts.OnScoresRecorded(ctx, modelID)
	}
	return r.result, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	res := r.result
	if err := res.Range.Validate(); err != nil {
		res.FailedStep = contracts.StepDetectObservationGaps
		return err
	}
	if err := res.ScoreRange.Validate(); err != nil {
		res.FailedStep = contracts.StepDetectScoreGaps
		return err
	}

	ok, err := o.store.HasModel(ctx, res.ModelID)
	if err != nil {
		return fmt.Errorf("lookup model %d: %w", res.ModelID, err)
	}
	if !ok {
		return fmt.Errorf("model %d: %w", res.ModelID, contracts.ErrNotFound)
	}

	r.terms, err = o.store.TermsForModel(ctx, res.ModelID)
	if err != nil {
		return fmt.Errorf("terms of model %d: %w", res.ModelID, err)
	}

	r.fn, err = o.store.ScoringConfig(ctx, res.ModelID)
	if err != nil {
		return fmt.Errorf("scoring config of model %d: %w", res.ModelID, err)
	}
	// checked before any fetch so an unusable engine costs no quota
	if !o.engine.Capabilities().Supports(r.fn.HasConfidenceInterval) {
		res.FailedStep = contracts.StepComputeScores
		return fmt.Errorf("%w: %s on %s (confidence interval: %t)",
			ErrEngineUnsupported, r.fn.FunctionName, o.engine.Name(), r.fn.HasConfidenceInterval)
	}

	if !res.ObservationsSkipped {
		// S1: observation gaps
		ranges, dates, err := o.detector.MissingObservationRanges(ctx, res.ModelID, res.Range.Start, res.Range.End)
		if err != nil {
			res.FailedStep = contracts.StepDetectObservationGaps
			return err
		}

		if len(dates) == 0 {
			r.log.Info("No missing observations")
		} else {
			// S2: probe + fetch
			blocked, err := o.fetchObservations(ctx, r, ranges)
			if err != nil {
				res.FailedStep = contracts.StepFetchObservations
				return err
			}
			if blocked {
				res.Outcome = contracts.OutcomeBlocked
				return nil
			}

			// S3: completeness
			if err := o.markObservations(ctx, r, dates); err != nil {
				res.FailedStep = contracts.StepVerifyObservations
				return err
			}
		}
	}

	// S4: score gaps, keeping the days whose observation window is complete
	missing, err := o.detector.MissingScoreDates(ctx, res.ModelID, res.ScoreRange.Start, res.ScoreRange.End)
	if err != nil {
		res.FailedStep = contracts.StepDetectScoreGaps
		return err
	}
	ready, deferred, err := o.scorableDays(ctx, r, missing)
	if err != nil {
		res.FailedStep = contracts.StepDetectScoreGaps
		return err
	}
	res.ScoresDeferred = len(deferred)
	if len(deferred) > 0 {
		r.log.WithFields(map[string]interface{}{
			"deferred": len(deferred),
			"first":    deferred[0].Format(contracts.DateLayout),
			"window":   r.fn.AverageWindowSize,
		}).Info("Scores deferred until their observation window is complete")
	}
	if len(ready) == 0 {
		r.log.Info("No missing scores")
		res.Outcome = contracts.OutcomeCompleted
		return nil
	}

	// S5: scoring
	if err := o.computeScores(ctx, r, ready); err != nil {
		res.FailedStep = contracts.StepComputeScores
		return err
	}

	// S6: notification never fails the run
	o.notify(ctx, r)

	res.Outcome = contracts.OutcomeCompleted
	return nil
}

// scorableDays splits missing score days into those whose whole observation
// window (the day itself for raw scoring) has completion markers and those
// that must wait for later observations
func (o *Orchestrator) scorableDays(ctx context.Context, r *run, missing []time.Time) (ready, deferred []time.Time, err error) {
	if len(missing) == 0 {
		return nil, nil, nil
	}

	window := 1
	if r.fn.UsesMovingAverage() {
		window = r.fn.AverageWindowSize
	}

	first := contracts.WindowAround(missing[0], window).Start
	last := contracts.WindowAround(missing[len(missing)-1], window).End
	done, err := o.store.CompletedDays(ctx, r.result.ModelID, first, last)
	if err != nil {
		return nil, nil, fmt.Errorf("completed days of model %d: %w", r.result.ModelID, err)
	}
	complete := make(map[time.Time]struct{}, len(done))
	for _, d := range done {
		complete[contracts.Day(d)] = struct{}{}
	}

	for _, day := range missing {
		full := true
		for _, d := range contracts.WindowAround(day, window).Days() {
			if _, ok := complete[d]; !ok {
				full = false
				break
			}
		}
		if full {
			ready = append(ready, day)
		} else {
			deferred = append(deferred, day)
		}
	}
	return ready, deferred, nil
}

// fetchObservations probes the end date, then stores every planned batch.
// It reports blocked when the source is not authoritative yet.
func (o *Orchestrator) fetchObservations(ctx context.Context, r *run, ranges []contracts.DateRange) (bool, error) {
	res := r.result

	ok, err := o.trends.Probe(ctx, res.Range.End)
	if err != nil {
		return false, fmt.Errorf("probe: %w", err)
	}
	if !ok {
		r.log.Warn("Trend source not authoritative for end date, run blocked")
		return true, nil
	}

	planner := batch.NewPlanner(r.terms, ranges)
	r.log.WithFields(map[string]interface{}{
		"ranges":      len(planner.Ranges()),
		"batches":     planner.Len(),
		"total_lines": planner.TotalLines(),
	}).Info("Fetching observations")

	for b := range planner.Batches() {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		series, err := o.trends.Fetch(ctx, b.Terms, b.Range.Start, b.Range.End)
		if err != nil {
			return false, fmt.Errorf("fetch %s: %w", b.Range, err)
		}
		if len(series) == 0 {
			return false, fmt.Errorf("%w: %d terms over %s", ErrFetchFailed, len(b.Terms), b.Range)
		}

		written := 0
		for _, s := range series {
			for _, p := range s.Points {
				if !b.Range.Contains(p.Date) {
					continue
				}
				if err := o.store.RecordObservation(ctx, s.Term, p.Date, p.Value); err != nil {
					return false, fmt.Errorf("record %q on %s: %w", s.Term, p.Date.Format(contracts.DateLayout), err)
				}
				written++
			}
		}
		res.BatchesFetched++
		o.opts.Metrics.AddObservations(written)

		r.log.WithFields(map[string]interface{}{
			"terms":        len(b.Terms),
			"range":        b.Range.String(),
			"observations": written,
		}).Debug("Batch stored")
	}
	return false, nil
}

func (o *Orchestrator) markObservations(ctx context.Context, r *run, dates []time.Time) error {
	for _, day := range dates {
		if err := o.store.MarkObservationDayComplete(ctx, r.result.ModelID, day); err != nil {
			return err
		}
		r.result.DaysCompleted++
		o.opts.Metrics.IncDaysCompleted()
	}
	return nil
}

func (o *Orchestrator) computeScores(ctx context.Context, r *run, days []time.Time) error {
	res := r.result
	fn := r.fn

	var err error
	modelKey := strconv.Itoa(res.ModelID)
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return err
		}

		var observations []contracts.TermValue
		if fn.UsesMovingAverage() {
			observations, err = o.store.TermAverages(ctx, res.ModelID, day, fn.AverageWindowSize)
		} else {
			observations, err = o.store.TermValues(ctx, res.ModelID, day)
		}
		if err != nil {
			return fmt.Errorf("observations on %s: %w", day.Format(contracts.DateLayout), err)
		}
		if len(observations) != len(r.terms) {
			return &contracts.IncompleteObservationSetError{
				ModelID: res.ModelID, Day: day, Have: len(observations), Want: len(r.terms),
			}
		}

		score, err := o.score(ctx, fn, observations)
		if err != nil {
			return fmt.Errorf("score %s: %w", day.Format(contracts.DateLayout), err)
		}
		if err := o.store.RecordScore(ctx, res.ModelID, day, score); err != nil {
			return fmt.Errorf("record score %s: %w", day.Format(contracts.DateLayout), err)
		}

		res.ScoresComputed++
		o.opts.Metrics.RecordScore(modelKey, score.Value)
		if res.Latest == nil || day.After(res.Latest.Day) {
			res.Latest = &contracts.ScorePoint{Day: day, Value: score.Value}
		}
	}

	r.log.WithField("scores", res.ScoresComputed).Info("Scores computed")
	return nil
}

func (o *Orchestrator) score(ctx context.Context, fn *contracts.ScoringFunction, observations []contracts.TermValue) (contracts.Score, error) {
	if !fn.HasConfidenceInterval {
		value, err := o.engine.Score(ctx, fn.FunctionName, observations)
		if err != nil {
			return contracts.Score{}, err
		}
		if !finite(value) {
			return contracts.Score{}, ErrNonFiniteScore
		}
		return contracts.Score{Value: value}, nil
	}

	value, lower, upper, err := o.engine.ScoreWithConfidence(ctx, fn.FunctionName, observations)
	if err != nil {
		return contracts.Score{}, err
	}
	if !finite(value) || !finite(lower) || !finite(upper) {
		return contracts.Score{}, ErrNonFiniteScore
	}
	return contracts.Score{
		Value:    value,
		Interval: &contracts.ConfidenceInterval{Lower: lower, Upper: upper},
	}, nil
}

func (o *Orchestrator) notify(ctx context.Context, r *run) {
	res := r.result
	if o.notifier == nil || o.opts.NotifyModelID == 0 || o.opts.NotifyModelID != res.ModelID || res.Latest == nil {
		return
	}

	if err := o.notifier.Publish(ctx, res.Latest.Day, res.Latest.Value); err != nil {
		o.opts.Metrics.RecordNotification(metrics.ResultError)
		r.log.WithError(err).Warn("Score notification failed")
		return
	}
	o.opts.Metrics.RecordNotification(metrics.ResultOK)
	res.Notified = true
}

// RunScheduled runs every model from the day after its last complete
// observation day up to EndDate. Scores are filled from the day after the
// last score, so days a failed or cut-short run left unscored are retried.
// Models run in sequence; one model's failure does not stop the others and
// all errors are joined.
func (o *Orchestrator) RunScheduled(ctx context.Context, modelIDs []int) ([]*contracts.RunResult, error) {
	now := o.opts.Now()
	today := contracts.Day(now.UTC())
	end := EndDate(now, o.opts.LagDays)
	floor := contracts.AddDays(today, -MaxBacklogDays)

	results := make([]*contracts.RunResult, 0, len(modelIDs))
	var errs []error

	for _, modelID := range modelIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		log := o.logger.WithField("model_id", modelID)

		last, err := o.store.LastObservationDay(ctx, modelID)
		if err != nil {
			errs = append(errs, fmt.Errorf("model %d: last observation day: %w", modelID, err))
			continue
		}
		if backlog := contracts.DaysBetween(last, today); backlog >= MaxBacklogDays {
			errs = append(errs, fmt.Errorf("model %d: %w: last observation %s is %d days old",
				modelID, ErrBacklogExceeded, last.Format(contracts.DateLayout), backlog))
			continue
		}

		scoreStart, err := o.scoreStart(ctx, modelID, floor, end)
		if err != nil {
			errs = append(errs, fmt.Errorf("model %d: %w", modelID, err))
			continue
		}

		var obs *contracts.DateRange
		if start := contracts.AddDays(last, 1); !start.After(end) {
			obs = &contracts.DateRange{Start: start, End: end}
			if start.Before(scoreStart) {
				scoreStart = start
			}
		}
		if obs == nil && scoreStart.After(end) {
			log.WithField("last_observation", last.Format(contracts.DateLayout)).Info("Model up to date, nothing to collect")
			continue
		}

		result, err := o.run(ctx, modelID, obs, contracts.DateRange{Start: scoreStart, End: end})
		results = append(results, result)
		if err != nil {
			errs = append(errs, fmt.Errorf("model %d: %w", modelID, err))
		}
	}

	return results, errors.Join(errs...)
}

// scoreStart is the first day a scheduled run looks for missing scores: the
// day after the last score, or the first complete day when nothing is scored
// yet. It never reaches back past floor.
func (o *Orchestrator) scoreStart(ctx context.Context, modelID int, floor, end time.Time) (time.Time, error) {
	lastScore, err := o.store.LastScoreDay(ctx, modelID)
	switch {
	case err == nil:
		start := contracts.AddDays(lastScore, 1)
		if start.Before(floor) {
			start = floor
		}
		return start, nil
	case errors.Is(err, contracts.ErrNotFound):
		done, err := o.store.CompletedDays(ctx, modelID, floor, end)
		if err != nil {
			return time.Time{}, fmt.Errorf("completed days: %w", err)
		}
		if len(done) == 0 {
			return contracts.AddDays(end, 1), nil
		}
		return contracts.Day(done[0]), nil
	default:
		return time.Time{}, fmt.Errorf("last score day: %w", err)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
