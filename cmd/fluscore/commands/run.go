package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/internal/pipeline"
	"github.com/wonny/fluscore/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect observations and scores for one model",
	Long: `Runs the score collection pipeline for one model over a date range.

This command:
- finds days without a complete observation set
- probes the trend source and fetches the missing observations
- marks complete days
- computes the missing scores with the configured engine
- publishes the latest score when the model is the notified one

Example:
  go run ./cmd/fluscore run --model 1 --start 2018-06-01
  go run ./cmd/fluscore run --model 1 --start 2018-06-01 --end 2018-06-30`,
	RunE: runManual,
}

// runScheduledCmd represents the run-scheduled command
var runScheduledCmd = &cobra.Command{
	Use:   "run-scheduled",
	Short: "Run the scheduled pipeline once",
	Long: `Runs every listed model from the day after its last complete
observation day up to today minus the freshness lag.

Without --models the configured SCHEDULE_MODEL_IDS, then the default model, are used.

Example:
  go run ./cmd/fluscore run-scheduled --models 1,2`,
	RunE: runScheduledOnce,
}

var (
	runModelID  int
	runStart    string
	runEnd      string
	runModelIDs string
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runScheduledCmd)

	runCmd.Flags().IntVar(&runModelID, "model", 0, "model id (required)")
	runCmd.Flags().StringVar(&runStart, "start", "", "first day, YYYY-MM-DD (required)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "last day, YYYY-MM-DD (default: today minus the freshness lag)")
	runCmd.MarkFlagRequired("model")
	runCmd.MarkFlagRequired("start")

	runScheduledCmd.Flags().StringVar(&runModelIDs, "models", "", "comma separated model ids")
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runManual(cmd *cobra.Command, args []string) error {
	start, err := contracts.ParseDate(runStart)
	if err != nil {
		return err
	}

	a, err := loadPipeline()
	if err != nil {
		return err
	}
	defer a.Close()

	end := pipeline.EndDate(time.Now(), a.cfg.Trends.LagDays)
	if runEnd != "" {
		if end, err = contracts.ParseDate(runEnd); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := a.orchestrator.Run(ctx, runModelID, start, end)
	if result != nil {
		PrintRunResult(result)
	}
	return err
}

func runScheduledOnce(cmd *cobra.Command, args []string) error {
	a, err := loadPipeline()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ids := a.cfg.Schedule.ModelIDs
	if runModelIDs != "" {
		if ids, err = config.ParseIDs(runModelIDs); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		def, err := a.store.DefaultModelID(ctx)
		if err != nil {
			return fmt.Errorf("no models given and no default model: %w", err)
		}
		ids = []int{def}
	}

	results, err := a.orchestrator.RunScheduled(ctx, ids)
	for _, r := range results {
		PrintRunResult(r)
	}
	if len(results) == 0 && err == nil {
		PrintSuccess("All models up to date")
	}
	return err
}
