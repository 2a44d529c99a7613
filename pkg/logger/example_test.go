package logger_test

import (
	"errors"

	"github.com/wonny/fluscore/pkg/config"
	"github.com/wonny/fluscore/pkg/logger"
)

// Example_basic logs at the configured level on the console writer
func Example_basic() {
	cfg := &config.Config{
		Env:       "development",
		LogLevel:  "info",
		LogFormat: "console",
	}

	log := logger.New(cfg)

	log.Debug("This won't appear (level is info)")
	log.Info("Scheduler started")
	log.Warnf("Trend source blocked until %s", "2018-01-02T00:00:00Z")
}

// Example_pipelineRun demonstrates the fields a pipeline run carries
func Example_pipelineRun() {
	cfg := &config.Config{
		Env:       "production",
		LogLevel:  "info",
		LogFormat: "json",
	}

	log := logger.New(cfg).WithField("module", "pipeline")

	runLog := log.WithFields(map[string]interface{}{
		"run_id":   "5f0c2d7e-4d55-4b8e-9a0e-2f1d3c4b5a69",
		"model_id": 1,
	})
	runLog.Info("Observation gaps detected")

	err := errors.New("engine exited with status 1")
	runLog.WithError(err).Error("Score computation failed")

	// Prints:
	// {"level":"info","module":"pipeline","model_id":1,"run_id":"...","message":"Observation gaps detected",...}
	// {"level":"error","error":"engine exited with status 1","message":"Score computation failed",...}
}
