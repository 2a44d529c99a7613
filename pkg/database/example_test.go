package database_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/database"
	"github.com/wonny/fluscore/pkg/logger"
)

// Example demonstrates migrating and connecting to the score database
func Example() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := database.RunMigrations(cfg.Database.URL, logger.New(cfg)); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := db.HealthCheck(ctx)
	if err != nil {
		log.Fatalf("Health check failed: %v", err)
	}

	fmt.Printf("Database is healthy: %v\n", status.Healthy)
	fmt.Printf("Max connections: %d\n", status.Stats.MaxConns)
}
