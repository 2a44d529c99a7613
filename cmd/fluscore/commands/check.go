package commands

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check PostgreSQL and Redis connectivity",
	Long: `Connects to the database and Redis and prints pool statistics.

This command:
- loads DATABASE_URL from the config
- opens the pool and pings it
- runs the health check
- pings Redis when REDIS_ENABLED is set

Example:
  go run ./cmd/fluscore check
  go run ./cmd/fluscore check --env production`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	fmt.Println("=== fluscore Connectivity Check ===")

	a, err := loadApp()
	if err != nil {
		return fmt.Errorf("❌ %w", err)
	}
	defer a.Close()
	fmt.Printf("✅ Config loaded (ENV: %s)\n", a.cfg.Env)
	fmt.Printf("   Database URL: %s\n\n", redactURL(a.cfg.Database.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := a.db.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("❌ Health check failed: %w", err)
	}

	PrintSuccess("Database health check")
	PrintKeyValue("Healthy", fmt.Sprint(status.Healthy), 20)
	PrintKeyValue("Response time", status.ResponseTime.String(), 20)
	PrintKeyValue("Max connections", fmt.Sprint(status.Stats.MaxConns), 20)
	PrintKeyValue("Total connections", fmt.Sprint(status.Stats.TotalConns), 20)
	PrintKeyValue("Idle connections", fmt.Sprint(status.Stats.IdleConns), 20)
	PrintKeyValue("Acquire count", fmt.Sprint(status.Stats.AcquireCount), 20)

	if a.redis.Enabled() {
		if err := a.redis.Redis().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("❌ Redis ping failed: %w", err)
		}
		PrintSuccess("Redis ping")
	} else {
		PrintWarning("Redis disabled: no shared cool-down, no API cache")
	}

	fmt.Println("\n✅ All checks passed!")
	return nil
}

// redactURL hides the password of a connection URL
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
