package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/fluscore/internal/contracts"
)

// HasModel reports whether the model exists
func (s *Store) HasModel(ctx context.Context, modelID int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM model WHERE id = $1)`, modelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check model %d: %w", modelID, err)
	}
	return exists, nil
}

const modelColumns = `
	m.id, m.name, m.source_type, m.is_public, m.is_displayed, COALESCE(m.model_region_id, ''),
	f.function_name, f.average_window_size, f.has_confidence_interval
`

func scanModel(row pgx.Row) (*contracts.Model, error) {
	var (
		m          contracts.Model
		fnName     *string
		window     *int
		hasConfInt *bool
	)
	if err := row.Scan(
		&m.ID, &m.Name, &m.SourceType, &m.IsPublic, &m.IsDisplayed, &m.RegionID,
		&fnName, &window, &hasConfInt,
	); err != nil {
		return nil, err
	}
	if fnName != nil {
		m.Function = &contracts.ScoringFunction{
			ModelID:               m.ID,
			FunctionName:          *fnName,
			AverageWindowSize:     *window,
			HasConfidenceInterval: *hasConfInt,
		}
	}
	return &m, nil
}

// Model returns the model with its scoring function
func (s *Store) Model(ctx context.Context, modelID int) (*contracts.Model, error) {
	query := `
		SELECT ` + modelColumns + `
		FROM model m
		LEFT JOIN model_function f ON f.model_id = m.id
		WHERE m.id = $1
	`

	m, err := scanModel(s.pool.QueryRow(ctx, query, modelID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("model %d: %w", modelID, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get model %d: %w", modelID, err)
	}
	return m, nil
}

// Models lists models ordered by id
func (s *Store) Models(ctx context.Context, publicOnly bool) ([]*contracts.Model, error) {
	query := `
		SELECT ` + modelColumns + `
		FROM model m
		LEFT JOIN model_function f ON f.model_id = m.id
		WHERE ($1::boolean = FALSE OR m.is_public)
		ORDER BY m.id
	`

	rows, err := s.pool.Query(ctx, query, publicOnly)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	models := make([]*contracts.Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// DefaultModelID returns the model served when a caller does not name one
func (s *Store) DefaultModelID(ctx context.Context) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx, `SELECT model_id FROM default_model ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("default model: %w", contracts.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get default model: %w", err)
	}
	return id, nil
}

// TermsForModel returns the model's terms in creation order
func (s *Store) TermsForModel(ctx context.Context, modelID int) ([]string, error) {
	query := `
		SELECT t.term
		FROM term t
		JOIN model_term mt ON mt.term_id = t.id
		WHERE mt.model_id = $1
		ORDER BY t.id
	`

	rows, err := s.pool.Query(ctx, query, modelID)
	if err != nil {
		return nil, fmt.Errorf("terms for model %d: %w", modelID, err)
	}

	terms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan terms for model %d: %w", modelID, err)
	}
	return terms, nil
}

// ScoringConfig returns the model's scoring function
func (s *Store) ScoringConfig(ctx context.Context, modelID int) (*contracts.ScoringFunction, error) {
	query := `
		SELECT function_name, average_window_size, has_confidence_interval
		FROM model_function
		WHERE model_id = $1
	`

	fn := contracts.ScoringFunction{ModelID: modelID}
	err := s.pool.QueryRow(ctx, query, modelID).Scan(&fn.FunctionName, &fn.AverageWindowSize, &fn.HasConfidenceInterval)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scoring function of model %d: %w", modelID, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get scoring function of model %d: %w", modelID, err)
	}
	return &fn, nil
}

// LastObservationDay returns the latest day with a completion marker
func (s *Store) LastObservationDay(ctx context.Context, modelID int) (time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(day) FROM observation_day WHERE model_id = $1`, modelID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("last observation day of model %d: %w", modelID, err)
	}
	if last == nil {
		return time.Time{}, fmt.Errorf("last observation day of model %d: %w", modelID, contracts.ErrNotFound)
	}
	return contracts.Day(*last), nil
}

// CreateModel inserts a model, its scoring function and its terms in one transaction.
// Existing term text is reused.
func (s *Store) CreateModel(ctx context.Context, m contracts.Model, terms []string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var regionID *string
	if m.RegionID != "" {
		regionID = &m.RegionID
	}

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO model (name, source_type, is_public, is_displayed, model_region_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, m.Name, m.SourceType, m.IsPublic, m.IsDisplayed, regionID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert model %q: %w", m.Name, err)
	}

	if m.Function != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO model_function (model_id, function_name, average_window_size, has_confidence_interval)
			VALUES ($1, $2, $3, $4)
		`, id, m.Function.FunctionName, m.Function.AverageWindowSize, m.Function.HasConfidenceInterval)
		if err != nil {
			return 0, fmt.Errorf("insert scoring function: %w", err)
		}
	}

	for _, term := range terms {
		var termID int
		err = tx.QueryRow(ctx, `
			INSERT INTO term (term) VALUES ($1)
			ON CONFLICT (term) DO UPDATE SET term = EXCLUDED.term
			RETURNING id
		`, term).Scan(&termID)
		if err != nil {
			return 0, fmt.Errorf("insert term %q: %w", term, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO model_term (model_id, term_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, id, termID)
		if err != nil {
			return 0, fmt.Errorf("link term %q: %w", term, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"model_id": id,
		"terms":    len(terms),
	}).Info("Model created")
	return id, nil
}

// SetDefaultModel records modelID as the default public model
func (s *Store) SetDefaultModel(ctx context.Context, modelID int) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO default_model (model_id) VALUES ($1)`, modelID)
	if err != nil {
		return fmt.Errorf("set default model %d: %w", modelID, err)
	}
	return nil
}
