package commands

import (
	"context"
	"fmt"

	"github.com/wonny/fluscore/internal/engine"
	"github.com/wonny/fluscore/internal/external/trends"
	"github.com/wonny/fluscore/internal/notify"
	"github.com/wonny/fluscore/internal/pipeline"
	"github.com/wonny/fluscore/internal/store/pgstore"
	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/database"
	"github.com/wonny/fluscore/pkg/httputil"
	"github.com/wonny/fluscore/pkg/logger"
	"github.com/wonny/fluscore/pkg/metrics"
	"github.com/wonny/fluscore/pkg/redis"
)

// redisPrefix namespaces every key the service writes
const redisPrefix = "fluscore"

// app holds the dependencies shared by the commands
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	db      *database.DB
	store   *pgstore.Store
	redis   *redis.Client
	cache   *redis.Cache
	metrics *metrics.Manager

	trends       *trends.Client
	orchestrator *pipeline.Orchestrator
}

// loadApp loads the configuration and connects the database and Redis
func loadApp() (*app, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// 4. Connect to Redis (a disabled client turns every call into a no-op)
	rdb, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		store:   pgstore.New(db.Pool, log),
		redis:   rdb,
		cache:   redis.NewCache(rdb, redisPrefix),
		metrics: metrics.NewManager(metrics.WithMetricsEnabled(cfg.MetricsEnabled)),
	}, nil
}

// loadPipeline loads the app and wires the trend client, scoring engine,
// notifier and orchestrator
func loadPipeline() (*app, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}

	a.trends = a.newTrendsClient()

	eng, err := engine.New(a.cfg.Engine, a.log, a.metrics)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create scoring engine: %w", err)
	}

	notifier, err := notify.New(a.cfg.Notify, a.redis, a.log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	a.orchestrator = pipeline.NewOrchestrator(a.store, a.trends, eng, notifier, pipeline.Options{
		LagDays:          a.cfg.Trends.LagDays,
		NotifyModelID:    a.cfg.Notify.ModelID,
		Metrics:          a.metrics,
		OnScoresRecorded: a.invalidateScores,
	}, a.log)

	return a, nil
}

// newTrendsClient builds the trend client sharing its cool-down through Redis
func (a *app) newTrendsClient() *trends.Client {
	httpClient := httputil.NewWithTimeout(a.log, a.cfg.Trends.Timeout).
		WithRateLimit(a.cfg.Trends.MaxRPS, 1)

	return trends.NewClient(a.cfg.Trends, httpClient, a.log,
		trends.WithMetrics(a.metrics),
		trends.WithBlockStore(redis.NewCooldownStore(a.redis, redisPrefix)),
	)
}

// invalidateScores drops the API's cached score series of a model
func (a *app) invalidateScores(ctx context.Context, modelID int) {
	n, err := a.cache.DeletePrefix(ctx, redis.ScoresPrefix(modelID))
	if err != nil {
		a.log.WithError(err).WithField("model_id", modelID).Warn("Failed to invalidate cached scores")
		return
	}
	if n > 0 {
		a.log.WithFields(map[string]interface{}{
			"model_id": modelID,
			"keys":     n,
		}).Debug("Invalidated cached scores")
	}
}

// Close releases the connections
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
