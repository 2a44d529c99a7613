package config_test

import (
	"fmt"

	"github.com/wonny/fluscore/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	// Access configuration values
	fmt.Printf("Server running on port: %s\n", cfg.Port)
	fmt.Printf("Environment: %s\n", cfg.Env)
	fmt.Printf("Calculator: %s\n", cfg.Engine.Type)
	fmt.Printf("Freshness lag: %d days\n", cfg.Trends.LagDays)
	for _, job := range cfg.Schedule.AllJobs() {
		fmt.Printf("Job %s at %s for models %v\n", job.Name, job.Cron, job.ModelIDs)
	}
}
