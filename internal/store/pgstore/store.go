package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/pkg/logger"
)

// Store implements contracts.Store on PostgreSQL
// ⭐ SSOT: SQL for models, observations and scores lives in this package only
type Store struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// New creates a new PostgreSQL store
func New(pool *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: log.WithField("module", "pgstore"),
	}
}

func scanDays(rows pgx.Rows) ([]time.Time, error) {
	defer rows.Close()

	days := make([]time.Time, 0)
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, contracts.Day(d))
	}
	return days, rows.Err()
}

var _ contracts.Store = (*Store)(nil)
