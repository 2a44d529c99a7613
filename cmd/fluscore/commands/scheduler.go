package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/fluscore/internal/api"
	"github.com/wonny/fluscore/internal/scheduler"
	"github.com/wonny/fluscore/internal/scheduler/jobs"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Manage the score collection scheduler",
	Long: `Starts the scheduler daemon or inspects its jobs.

Jobs come from the schedule section of the config file plus SCHEDULE_CRON /
SCHEDULE_MODEL_IDS. Each job runs the scheduled pipeline over its model list.

Subcommands:
  start   - start the scheduler daemon
  list    - list registered jobs and their next run
  run     - run one job now and wait for it
  status  - job statistics

Example:
  go run ./cmd/fluscore scheduler start
  go run ./cmd/fluscore scheduler list
  go run ./cmd/fluscore scheduler run score_collection`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		Long: `Starts the scheduler and every configured job.
Prometheus metrics are served on METRICS_PORT while it runs.

Stop it with Ctrl+C.`,
		RunE: runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "Run one job now",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}

	schedulerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show job statistics",
		RunE:  showStatus,
	}
)

var (
	schedulerRetries    int
	schedulerRetryDelay time.Duration
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)

	schedulerCmd.PersistentFlags().IntVar(&schedulerRetries, "retries", 2, "retries of a failed job (permanent failures are not retried)")
	schedulerCmd.PersistentFlags().DurationVar(&schedulerRetryDelay, "retry-delay", time.Minute, "delay between retries")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	fmt.Println("=== fluscore Scheduler ===")

	a, sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.Close()

	var metricsServer *api.Server
	if a.cfg.MetricsEnabled {
		metricsServer = api.NewMetricsServer(a.cfg, a.log, a.metrics.Handler())
		go func() {
			if err := metricsServer.Start(); err != nil {
				a.log.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	// Start scheduler
	sched.Start()

	PrintSuccess("Scheduler started")
	fmt.Println("\nRegistered jobs:")
	printJobs(sched)
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	ctx, cancel := signalContext()
	defer cancel()
	<-ctx.Done()

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	fmt.Println("Scheduler stopped")
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.Close()

	fmt.Println("Registered jobs:")
	printJobs(sched)
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	jobName := args[0]

	a, sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Running job: %s\n", jobName)
	result, err := sched.RunJob(ctx, jobName)
	if err != nil {
		return fmt.Errorf("run job: %w", err)
	}

	PrintKeyValue("Attempts", fmt.Sprint(result.Attempts), 10)
	PrintKeyValue("Duration", result.Duration.Round(time.Millisecond).String(), 10)
	if !result.Success {
		PrintError(result.Error)
		return fmt.Errorf("job %s failed", jobName)
	}
	PrintSuccess("Job completed")
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	a, sched, err := initScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer a.Close()

	stats := sched.GetJobStats()

	fmt.Println("Job Statistics:")
	fmt.Println()

	for _, jobName := range sched.GetAllJobs() {
		stat := stats[jobName]
		fmt.Printf("📊 %s\n", jobName)
		fmt.Printf("   Schedule: %s\n", stat.Schedule)
		if job, ok := sched.GetJob(jobName); ok {
			if sc, ok := job.(*jobs.ScoreCollectionJob); ok {
				fmt.Printf("   Models: %v\n", describeModels(sc.ModelIDs()))
			}
		}
		fmt.Printf("   Total Runs: %d\n", stat.TotalRuns)
		fmt.Printf("   Success: %d (%.1f%%)\n", stat.SuccessCount, stat.SuccessRate*100)
		fmt.Printf("   Failures: %d\n", stat.FailureCount)

		if stat.LastRun != nil {
			fmt.Printf("   Last Run: %s\n", stat.LastRun.Format("2006-01-02 15:04:05"))
		}

		if stat.LastSuccess != nil {
			fmt.Printf("   Last Success: %s\n", stat.LastSuccess.Format("2006-01-02 15:04:05"))
		}

		if stat.LastFailure != nil {
			fmt.Printf("   Last Failure: %s\n", stat.LastFailure.Format("2006-01-02 15:04:05"))
		}

		fmt.Println()
	}

	return nil
}

func printJobs(sched *scheduler.Scheduler) {
	widths := []int{24, 20, 20}
	PrintTableHeader([]string{"JOB", "SCHEDULE", "NEXT RUN"}, widths)
	for _, name := range sched.GetAllJobs() {
		job, _ := sched.GetJob(name)
		next := "-"
		t := sched.NextRun(name)
		if t.IsZero() {
			t = sched.Upcoming(name, time.Now())
		}
		if !t.IsZero() {
			next = t.Format("2006-01-02 15:04:05")
		}
		PrintTableRow([]string{name, job.Schedule(), next}, widths)
	}
}

func describeModels(ids []int) string {
	if len(ids) == 0 {
		return "default model"
	}
	return fmt.Sprint(ids)
}

func initScheduler() (*app, *scheduler.Scheduler, error) {
	a, err := loadPipeline()
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(a.log).WithRetry(schedulerRetries, schedulerRetryDelay)

	configured := a.cfg.Schedule.AllJobs()
	if len(configured) == 0 {
		a.Close()
		return nil, nil, fmt.Errorf("no jobs configured: set SCHEDULE_CRON or schedule.jobs")
	}
	for _, jc := range configured {
		if err := sched.AddJob(jobs.NewScoreCollectionJob(jc, a.orchestrator, a.store, a.log)); err != nil {
			a.Close()
			return nil, nil, fmt.Errorf("add job %s: %w", jc.Name, err)
		}
	}

	return a, sched, nil
}
