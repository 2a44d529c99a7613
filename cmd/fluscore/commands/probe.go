package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/fluscore/internal/contracts"
	"github.com/wonny/fluscore/internal/pipeline"
)

// probeCmd represents the probe command
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether the trend source has data for a day",
	Long: `Runs the pre-flight probe the pipeline runs before fetching.

Reports whether the client is accepting calls (no quota cool-down) and
whether the trend source is authoritative for the end day.

Example:
  go run ./cmd/fluscore probe
  go run ./cmd/fluscore probe --end 2018-06-30`,
	RunE: runProbe,
}

var probeEnd string

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVar(&probeEnd, "end", "", "day to probe, YYYY-MM-DD (default: today minus the freshness lag)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.Close()

	end := pipeline.EndDate(time.Now(), a.cfg.Trends.LagDays)
	if probeEnd != "" {
		if end, err = contracts.ParseDate(probeEnd); err != nil {
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	client := a.newTrendsClient()

	PrintHeader("Trend source probe " + end.Format(contracts.DateLayout))
	ok, err := client.Probe(ctx, end)
	accepting := client.IsAcceptingCalls()
	PrintKeyValue("Accepting calls", fmt.Sprint(accepting), 16)
	if !accepting {
		PrintKeyValue("Blocked until", client.BlockedUntil().Format(time.RFC3339), 16)
	}
	if err != nil {
		PrintError(err.Error())
		return err
	}
	PrintKeyValue("Authoritative", fmt.Sprint(ok), 16)
	PrintSeparator()

	if ok {
		PrintSuccess("Trend data available")
	} else {
		PrintWarning("Trend data not yet available, scheduled runs will be blocked")
	}
	return nil
}
