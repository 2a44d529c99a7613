package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/internal/pipeline"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/redis"
)

// DefaultRangeDays is the span served when startDate is omitted
const DefaultRangeDays = 30

// Resolutions accepted by the scores endpoint
const (
	ResolutionDay  = "day"
	ResolutionWeek = "week"
)

var errInvalidModelID = errors.New("invalid model id")

// ScoreReader is the read side of the store the API serves from
type ScoreReader interface {
	Model(ctx context.Context, modelID int) (*contracts.Model, error)
	Models(ctx context.Context, publicOnly bool) ([]*contracts.Model, error)
	DefaultModelID(ctx context.Context) (int, error)
	Scores(ctx context.Context, modelID int, start, end time.Time) ([]*contracts.ModelScore, error)
}

// ModelSeries is one model's block of a scores response
type ModelSeries struct {
	ID                    int         `json:"id"`
	Label                 string      `json:"label"`
	HasConfidenceInterval bool        `json:"hasConfidenceInterval"`
	AverageScore          *float64    `json:"average_score"`
	Datapoints            []Datapoint `json:"datapoints"`
}

// ScoresResponse is the body of GET /api/scores
type ScoresResponse struct {
	ModelData []ModelSeries `json:"modeldata"`
	Dates     []string      `json:"dates"`
	StartDate string        `json:"start_date"`
	EndDate   string        `json:"end_date"`
}

// ScoreHandler serves model scores
// ⭐ SSOT: score read endpoints live in this struct only
type ScoreHandler struct {
	store   ScoreReader
	cache   *redis.Cache
	lagDays int
	now     func() time.Time
	logger  *logger.Logger
}

// NewScoreHandler creates a score handler. cache may be nil.
func NewScoreHandler(store ScoreReader, cache *redis.Cache, lagDays int, log *logger.Logger) *ScoreHandler {
	return &ScoreHandler{
		store:   store,
		cache:   cache,
		lagDays: lagDays,
		now:     time.Now,
		logger:  log,
	}
}

// WithClock replaces the clock used for default date ranges
func (h *ScoreHandler) WithClock(now func() time.Time) *ScoreHandler {
	h.now = now
	return h
}

type scoreQuery struct {
	rng        contracts.DateRange
	smoothing  int
	resolution string
}

// parseRange applies the default range: end is today minus the freshness lag,
// start is DefaultRangeDays before end
func (h *ScoreHandler) parseRange(r *http.Request) (contracts.DateRange, error) {
	end, err := queryDate(r, "endDate", pipeline.EndDate(h.now(), h.lagDays))
	if err != nil {
		return contracts.DateRange{}, err
	}
	start, err := queryDate(r, "startDate", contracts.AddDays(end, -DefaultRangeDays))
	if err != nil {
		return contracts.DateRange{}, err
	}
	rng := contracts.NewDateRange(start, end)
	if err := rng.Validate(); err != nil {
		return contracts.DateRange{}, err
	}
	return rng, nil
}

func (h *ScoreHandler) parseQuery(r *http.Request) (scoreQuery, error) {
	rng, err := h.parseRange(r)
	if err != nil {
		return scoreQuery{}, err
	}
	smoothing, err := queryInt(r, "smoothing", 0)
	if err != nil {
		return scoreQuery{}, err
	}
	resolution := r.URL.Query().Get("resolution")
	if resolution == "" {
		resolution = ResolutionDay
	}
	if resolution != ResolutionDay && resolution != ResolutionWeek {
		return scoreQuery{}, fmt.Errorf("invalid resolution: %q (valid: day, week)", resolution)
	}
	return scoreQuery{rng: rng, smoothing: smoothing, resolution: resolution}, nil
}

// resolveModels loads the requested models, or the default model when no id is given.
// Unknown ids are skipped.
func (h *ScoreHandler) resolveModels(ctx context.Context, rawIDs []string) ([]*contracts.Model, error) {
	ids := make([]int, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %q", errInvalidModelID, raw)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		def, err := h.store.DefaultModelID(ctx)
		if errors.Is(err, contracts.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, def)
	}

	models := make([]*contracts.Model, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		m, err := h.store.Model(ctx, id)
		if errors.Is(err, contracts.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

// scoresFor returns the model's scores over rng widened for the smoothing window, cached per range
func (h *ScoreHandler) scoresFor(ctx context.Context, modelID int, rng contracts.DateRange, smoothing int) ([]*contracts.ModelScore, error) {
	wide := ExpandForSmoothing(rng, smoothing)
	load := func() (interface{}, error) {
		return h.store.Scores(ctx, modelID, wide.Start, wide.End)
	}
	if h.cache == nil {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return v.([]*contracts.ModelScore), nil
	}

	var scores []*contracts.ModelScore
	key := redis.ScoresKey(modelID, wide.Start.Format(contracts.DateLayout), wide.End.Format(contracts.DateLayout), smoothing)
	if err := h.cache.GetOrSet(ctx, key, &scores, redis.TTLShort, load); err != nil {
		return nil, err
	}
	return scores, nil
}

func (h *ScoreHandler) series(ctx context.Context, m *contracts.Model, q scoreQuery) (ModelSeries, error) {
	scores, err := h.scoresFor(ctx, m.ID, q.rng, q.smoothing)
	if err != nil {
		return ModelSeries{}, err
	}
	points := Smooth(scores, q.rng, q.smoothing)
	if q.resolution == ResolutionWeek {
		points = WeeklyOnly(points)
	}
	return ModelSeries{
		ID:                    m.ID,
		Label:                 m.Name,
		HasConfidenceInterval: m.Function != nil && m.Function.HasConfidenceInterval,
		AverageScore:          AverageScore(points),
		Datapoints:            points,
	}, nil
}

// GetScores handles GET /api/scores
func (h *ScoreHandler) GetScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q, err := h.parseQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	models, err := h.resolveModels(ctx, r.URL.Query()["id"])
	if errors.Is(err, errInvalidModelID) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve models")
		respondError(w, http.StatusInternalServerError, "Failed to load models")
		return
	}
	if len(models) == 0 {
		respondNoContent(w)
		return
	}

	resp := ScoresResponse{
		ModelData: make([]ModelSeries, 0, len(models)),
		Dates:     []string{},
	}
	dates := make(map[string]struct{})
	for _, m := range models {
		s, err := h.series(ctx, m, q)
		if err != nil {
			h.logger.WithError(err).WithField("model_id", m.ID).Error("Failed to load scores")
			respondError(w, http.StatusInternalServerError, "Failed to load scores")
			return
		}
		for _, p := range s.Datapoints {
			if _, ok := dates[p.Date]; !ok {
				dates[p.Date] = struct{}{}
				resp.Dates = append(resp.Dates, p.Date)
			}
		}
		resp.ModelData = append(resp.ModelData, s)
	}
	sort.Strings(resp.Dates)

	resp.StartDate = q.rng.Start.Format(contracts.DateLayout)
	resp.EndDate = q.rng.End.Format(contracts.DateLayout)
	if len(resp.Dates) > 0 {
		resp.StartDate = resp.Dates[0]
		resp.EndDate = resp.Dates[len(resp.Dates)-1]
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetScoresCSV handles GET /api/models/{id}/scores.csv
func (h *ScoreHandler) GetScoresCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid model id")
		return
	}
	rng, err := h.parseRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.store.Model(ctx, id)
	if errors.Is(err, contracts.ErrNotFound) {
		respondNoContent(w)
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("model_id", id).Error("Failed to load model")
		respondError(w, http.StatusInternalServerError, "Failed to load model")
		return
	}

	scores, err := h.scoresFor(ctx, id, rng, 0)
	if err != nil {
		h.logger.WithError(err).WithField("model_id", id).Error("Failed to load scores")
		respondError(w, http.StatusInternalServerError, "Failed to load scores")
		return
	}
	points := Smooth(scores, rng, 0)

	withCI := false
	for _, p := range points {
		if p.Upper != nil {
			withCI = true
			break
		}
	}

	header := []string{"score_date", "score_value"}
	if withCI {
		header = append(header, "confidence_interval_upper", "confidence_interval_lower")
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", m.Name+".csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write(header)
	for _, p := range points {
		row := []string{p.Date, formatFloat(p.Value)}
		if withCI {
			upper, lower := "", ""
			if p.Upper != nil {
				upper, lower = formatFloat(*p.Upper), formatFloat(*p.Lower)
			}
			row = append(row, upper, lower)
		}
		cw.Write(row)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.WithError(err).WithField("model_id", id).Warn("Failed to write CSV")
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
