package contracts

// Pipeline step definitions (SSOT)
// Every log line and metric label for a run uses these constants.
//
// Run flow:
//   DetectObservationGaps → FetchObservations → VerifyAndMarkObservations
//   → DetectScoreGaps → ComputeScores → NotifyIfConfigured

// Step represents a step of a score-collection run
type Step string

const (
	// StepDetectObservationGaps finds days without a completion marker
	StepDetectObservationGaps Step = "DETECT_OBSERVATION_GAPS"

	// StepFetchObservations probes the trend source and fetches planned batches
	StepFetchObservations Step = "FETCH_OBSERVATIONS"

	// StepVerifyObservations writes completion markers after the all-terms check
	StepVerifyObservations Step = "VERIFY_AND_MARK_OBSERVATIONS"

	// StepDetectScoreGaps finds days without a model score
	StepDetectScoreGaps Step = "DETECT_SCORE_GAPS"

	// StepComputeScores reads (averaged) observations and invokes the scoring engine
	StepComputeScores Step = "COMPUTE_SCORES"

	// StepNotify publishes the latest score to the downstream subscriber
	StepNotify Step = "NOTIFY_IF_CONFIGURED"
)

// String returns the step name
func (s Step) String() string {
	return string(s)
}

// AllSteps returns all run steps in order
func AllSteps() []Step {
	return []Step{
		StepDetectObservationGaps,
		StepFetchObservations,
		StepVerifyObservations,
		StepDetectScoreGaps,
		StepComputeScores,
		StepNotify,
	}
}

// Outcome is the terminal state of a run
type Outcome string

const (
	// OutcomeCompleted means observations and scores are filled for the range
	OutcomeCompleted Outcome = "COMPLETED"

	// OutcomeBlocked means the trend source was not authoritative for the end date
	OutcomeBlocked Outcome = "BLOCKED"

	// OutcomeAborted means a fetch, verification or scoring failure stopped the run
	OutcomeAborted Outcome = "ABORTED"
)

// String returns the outcome name
func (o Outcome) String() string {
	return string(o)
}

// RunResult summarizes one model's run.
// Range is the observation range; ScoreRange may start earlier to pick up
// days a previous run left unscored. A score-only run has ObservationsSkipped set.
type RunResult struct {
	RunID               string      `json:"run_id"`
	ModelID             int         `json:"model_id"`
	Range               DateRange   `json:"range"`
	ScoreRange          DateRange   `json:"score_range"`
	ObservationsSkipped bool        `json:"observations_skipped,omitempty"`
	Outcome             Outcome     `json:"outcome"`
	FailedStep          Step        `json:"failed_step,omitempty"`
	BatchesFetched      int         `json:"batches_fetched"`
	DaysCompleted       int         `json:"days_completed"`
	ScoresComputed      int         `json:"scores_computed"`
	ScoresDeferred      int         `json:"scores_deferred"`
	Latest              *ScorePoint `json:"latest,omitempty"`
	Notified            bool        `json:"notified"`
	DurationMillis      int64       `json:"duration_ms"`
	Error               string      `json:"error,omitempty"`
}
