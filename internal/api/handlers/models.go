package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/internal/pipeline"
	"github.com/wonny/fluscore/pkg/redis"
)

// ModelSummary is a catalogue entry
type ModelSummary struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DefaultParameters describes how the default series was produced
type DefaultParameters struct {
	GeoRegion string `json:"georegion"`
	Smoothing int    `json:"smoothing"`
}

// DefaultResponse is the body of GET /api/default
type DefaultResponse struct {
	ID                    int               `json:"id"`
	Name                  string            `json:"name"`
	HasConfidenceInterval bool              `json:"hasConfidenceInterval"`
	Parameters            DefaultParameters `json:"parameters"`
	ModelList             []ModelSummary    `json:"model_list"`
	StartDate             string            `json:"start_date"`
	EndDate               string            `json:"end_date"`
	AverageScore          *float64          `json:"average_score"`
	Datapoints            []Datapoint       `json:"datapoints"`
}

func (h *ScoreHandler) publicModels(ctx context.Context) ([]ModelSummary, error) {
	load := func() (interface{}, error) {
		models, err := h.store.Models(ctx, true)
		if err != nil {
			return nil, err
		}
		out := make([]ModelSummary, 0, len(models))
		for _, m := range models {
			out = append(out, ModelSummary{ID: m.ID, Name: m.Name})
		}
		return out, nil
	}
	if h.cache == nil {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return v.([]ModelSummary), nil
	}

	var out []ModelSummary
	if err := h.cache.GetOrSet(ctx, redis.ModelsKey(true), &out, redis.TTLMedium, load); err != nil {
		return nil, err
	}
	return out, nil
}

// GetModels handles GET /api/models
func (h *ScoreHandler) GetModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.publicModels(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list models")
		respondError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}
	if len(models) == 0 {
		respondNoContent(w)
		return
	}
	respondJSON(w, http.StatusOK, models)
}

// GetDefault handles GET /api/default: the last DefaultRangeDays of the default model
func (h *ScoreHandler) GetDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := h.store.DefaultModelID(ctx)
	if errors.Is(err, contracts.ErrNotFound) {
		respondNoContent(w)
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to resolve default model")
		respondError(w, http.StatusInternalServerError, "Failed to load default model")
		return
	}

	m, err := h.store.Model(ctx, id)
	if errors.Is(err, contracts.ErrNotFound) {
		respondNoContent(w)
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("model_id", id).Error("Failed to load default model")
		respondError(w, http.StatusInternalServerError, "Failed to load default model")
		return
	}

	catalogue, err := h.publicModels(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list models")
		respondError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}
	if len(catalogue) == 0 {
		respondNoContent(w)
		return
	}

	end := pipeline.EndDate(h.now(), h.lagDays)
	q := scoreQuery{
		rng:        contracts.NewDateRange(contracts.AddDays(end, -DefaultRangeDays), end),
		resolution: ResolutionDay,
	}
	s, err := h.series(ctx, m, q)
	if err != nil {
		h.logger.WithError(err).WithField("model_id", id).Error("Failed to load scores")
		respondError(w, http.StatusInternalServerError, "Failed to load scores")
		return
	}

	window := 0
	if m.Function != nil {
		window = m.Function.AverageWindowSize
	}
	respondJSON(w, http.StatusOK, DefaultResponse{
		ID:                    m.ID,
		Name:                  m.Name,
		HasConfidenceInterval: s.HasConfidenceInterval,
		Parameters:            DefaultParameters{GeoRegion: contracts.DefaultRegion, Smoothing: window},
		ModelList:             catalogue,
		StartDate:             q.rng.Start.Format(contracts.DateLayout),
		EndDate:               q.rng.End.Format(contracts.DateLayout),
		AverageScore:          s.AverageScore,
		Datapoints:            s.Datapoints,
	})
}
