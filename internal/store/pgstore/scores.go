package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/wonny/fluscore/internal/contracts"
)

// ScoredDays returns the days in [start, end] with a model score
func (s *Store) ScoredDays(ctx context.Context, modelID int, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT day
		FROM model_score
		WHERE model_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`

	rows, err := s.pool.Query(ctx, query, modelID, contracts.Day(start), contracts.Day(end))
	if err != nil {
		return nil, fmt.Errorf("scored days for model %d: %w", modelID, err)
	}
	return scanDays(rows)
}

// LastScoreDay returns the latest day with a model score
func (s *Store) LastScoreDay(ctx context.Context, modelID int) (time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(day) FROM model_score WHERE model_id = $1`, modelID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last score day of model %d: %w", modelID, err)
	}
	if last == nil {
		return time.Time{}, fmt.Errorf("last score day of model %d: %w", modelID, contracts.ErrNotFound)
	}
	return contracts.Day(*last), nil
}

// RecordScore inserts a score; bounds are NULL when the score has no interval
func (s *Store) RecordScore(ctx context.Context, modelID int, day time.Time, score contracts.Score) error {
	var lower, upper *float64
	if score.Interval != nil {
		lower, upper = &score.Interval.Lower, &score.Interval.Upper
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_score (model_id, day, region, value, ci_lower, ci_upper)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, modelID, contracts.Day(day), contracts.DefaultRegion, score.Value, lower, upper)
	if err != nil {
		return fmt.Errorf("insert score for model %d on %s: %w", modelID, day.Format(contracts.DateLayout), err)
	}
	return nil
}

// Scores returns the model's scores in [start, end] ordered by day
func (s *Store) Scores(ctx context.Context, modelID int, start, end time.Time) ([]*contracts.ModelScore, error) {
	query := `
		SELECT model_id, day, region, value, ci_lower, ci_upper
		FROM model_score
		WHERE model_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day, region
	`

	rows, err := s.pool.Query(ctx, query, modelID, contracts.Day(start), contracts.Day(end))
	if err != nil {
		return nil, fmt.Errorf("scores for model %d: %w", modelID, err)
	}
	defer rows.Close()

	scores := make([]*contracts.ModelScore, 0)
	for rows.Next() {
		var (
			sc           contracts.ModelScore
			lower, upper *float64
		)
		if err := rows.Scan(&sc.ModelID, &sc.Day, &sc.Region, &sc.Value, &lower, &upper); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		sc.Day = contracts.Day(sc.Day)
		if lower != nil && upper != nil {
			sc.Interval = &contracts.ConfidenceInterval{Lower: *lower, Upper: *upper}
		}
		scores = append(scores, &sc)
	}
	return scores, rows.Err()
}
