package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/internal/pipeline"
	"github.com/wonny/fluscore/internal/scheduler"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
)

// ScheduledRunner runs the scheduled pipeline variant over a model list
type ScheduledRunner interface {
	RunScheduled(ctx context.Context, modelIDs []int) ([]*contracts.RunResult, error)
}

// DefaultModelSource resolves the model used when a job names none
type DefaultModelSource interface {
	DefaultModelID(ctx context.Context) (int, error)
}

// ScoreCollectionJob collects observations and scores on a cron schedule
// ⭐ SSOT: the score collection schedule lives in this job only
type ScoreCollectionJob struct {
	name     string
	schedule string
	modelIDs []int
	runner   ScheduledRunner
	defaults DefaultModelSource
	logger   *logger.Logger
}

// NewScoreCollectionJob creates a job from its configuration entry
func NewScoreCollectionJob(cfg config.ScheduleJob, runner ScheduledRunner, defaults DefaultModelSource, log *logger.Logger) *ScoreCollectionJob {
	return &ScoreCollectionJob{
		name:     cfg.Name,
		schedule: cfg.Cron,
		modelIDs: cfg.ModelIDs,
		runner:   runner,
		defaults: defaults,
		logger:   log.WithField("job", cfg.Name),
	}
}

// Name returns the job name
func (j *ScoreCollectionJob) Name() string {
	return j.name
}

// Schedule returns the cron schedule (with seconds)
func (j *ScoreCollectionJob) Schedule() string {
	return j.schedule
}

// ModelIDs returns the configured models; empty means the default model
func (j *ScoreCollectionJob) ModelIDs() []int {
	return j.modelIDs
}

// Run executes the scheduled pipeline for every configured model
func (j *ScoreCollectionJob) Run(ctx context.Context) error {
	ids := j.modelIDs
	if len(ids) == 0 {
		id, err := j.defaults.DefaultModelID(ctx)
		if err != nil {
			return scheduler.Permanent(fmt.Errorf("resolve default model: %w", err))
		}
		ids = []int{id}
	}

	j.logger.WithField("models", ids).Info("Starting scheduled score collection")

	results, err := j.runner.RunScheduled(ctx, ids)
	for _, res := range results {
		j.logger.WithFields(map[string]interface{}{
			"model_id": res.ModelID,
			"run_id":   res.RunID,
			"outcome":  res.Outcome.String(),
			"scores":   res.ScoresComputed,
		}).Info("Model run finished")
	}

	if err != nil {
		if allPermanent(err) {
			return scheduler.Permanent(err)
		}
		return err
	}
	return nil
}

// allPermanent reports whether every joined failure is one a retry cannot fix
func allPermanent(err error) bool {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}

	for _, e := range errs {
		if !isPermanent(e) {
			return false
		}
	}
	return true
}

func isPermanent(err error) bool {
	return errors.Is(err, contracts.ErrQuotaExceeded) ||
		errors.Is(err, pipeline.ErrBacklogExceeded) ||
		errors.Is(err, pipeline.ErrEngineUnsupported) ||
		errors.Is(err, contracts.ErrNotFound)
}
