package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/fluscore/internal/contracts"
)

// CompletedDays returns the days in [start, end] carrying a completion marker
func (s *Store) CompletedDays(ctx context.Context, modelID int, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT day
		FROM observation_day
		WHERE model_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`

	rows, err := s.pool.Query(ctx, query, modelID, contracts.Day(start), contracts.Day(end))
	if err != nil {
		return nil, fmt.Errorf("completed days for model %d: %w", modelID, err)
	}
	return scanDays(rows)
}

// RecordObservation inserts a (term, day) value; an existing value is left untouched
func (s *Store) RecordObservation(ctx context.Context, term string, day time.Time, value float64) error {
	query := `
		INSERT INTO observation (term_id, day, value)
		SELECT id, $2::date, $3::double precision FROM term WHERE term = $1
		ON CONFLICT (term_id, day) DO NOTHING
		RETURNING term_id
	`

	var termID int
	err := s.pool.QueryRow(ctx, query, term, contracts.Day(day), value).Scan(&termID)
	if errors.Is(err, pgx.ErrNoRows) {
		// either the term is unknown or the observation already existed
		var known bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM term WHERE term = $1)`, term).Scan(&known); err != nil {
			return fmt.Errorf("check term %q: %w", term, err)
		}
		if !known {
			return fmt.Errorf("term %q: %w", term, contracts.ErrNotFound)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert observation %q on %s: %w", term, day.Format(contracts.DateLayout), err)
	}
	return nil
}

// MarkObservationDayComplete writes the completion marker when every term of the
// model has an observation for day. The count and the insert share one transaction.
func (s *Store) MarkObservationDayComplete(ctx context.Context, modelID int, day time.Time) error {
	d := contracts.Day(day)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var want, have int
	err = tx.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM model_term WHERE model_id = $1),
			(SELECT COUNT(DISTINCT o.term_id)
			   FROM observation o
			   JOIN model_term mt ON mt.term_id = o.term_id
			  WHERE mt.model_id = $1 AND o.day = $2)
	`, modelID, d).Scan(&want, &have)
	if err != nil {
		return fmt.Errorf("count observations for model %d: %w", modelID, err)
	}

	if want == 0 || have != want {
		return &contracts.IncompleteObservationSetError{ModelID: modelID, Day: d, Have: have, Want: want}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO observation_day (model_id, day) VALUES ($1, $2)
		ON CONFLICT (model_id, day) DO NOTHING
	`, modelID, d)
	if err != nil {
		return fmt.Errorf("insert completion marker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// TermValues returns the model's raw observations for day, in term order
func (s *Store) TermValues(ctx context.Context, modelID int, day time.Time) ([]contracts.TermValue, error) {
	query := `
		SELECT t.term, o.value
		FROM observation o
		JOIN term t ON t.id = o.term_id
		JOIN model_term mt ON mt.term_id = t.id
		WHERE mt.model_id = $1 AND o.day = $2
		ORDER BY t.id
	`

	return s.queryTermValues(ctx, query, modelID, contracts.Day(day))
}

// TermAverages returns per-term means over the symmetric window centred on center
func (s *Store) TermAverages(ctx context.Context, modelID int, center time.Time, window int) ([]contracts.TermValue, error) {
	rng := contracts.WindowAround(center, window)
	query := `
		SELECT t.term, AVG(o.value)
		FROM observation o
		JOIN term t ON t.id = o.term_id
		JOIN model_term mt ON mt.term_id = t.id
		WHERE mt.model_id = $1 AND o.day BETWEEN $2 AND $3
		GROUP BY t.id, t.term
		ORDER BY t.id
	`

	return s.queryTermValues(ctx, query, modelID, rng.Start, rng.End)
}

func (s *Store) queryTermValues(ctx context.Context, query string, args ...any) ([]contracts.TermValue, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query term values: %w", err)
	}
	defer rows.Close()

	values := make([]contracts.TermValue, 0)
	for rows.Next() {
		var tv contracts.TermValue
		if err := rows.Scan(&tv.Term, &tv.Value); err != nil {
			return nil, fmt.Errorf("scan term value: %w", err)
		}
		values = append(values, tv)
	}
	return values, rows.Err()
}
