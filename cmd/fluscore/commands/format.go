package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wonny/fluscore/internal/contracts"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// every command prints through these helpers
// ═══════════════════════════════════════════════════════════

// PrintHeader prints a titled block header
func PrintHeader(title string) {
	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  %s\n", title)
	PrintSeparator()
}

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Println(strings.Repeat("─", totalWidth))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintRunResult prints the summary of one model run
func PrintRunResult(r *contracts.RunResult) {
	PrintHeader(fmt.Sprintf("Model #%d  %s", r.ModelID, r.Range))
	PrintKeyValue("Run ID", r.RunID, 14)
	PrintKeyValue("Outcome", r.Outcome.String(), 14)
	if r.FailedStep != "" {
		PrintKeyValue("Failed step", r.FailedStep.String(), 14)
	}
	if r.ObservationsSkipped {
		PrintKeyValue("Observations", "skipped (score-only)", 14)
	} else {
		PrintKeyValue("Batches", strconv.Itoa(r.BatchesFetched), 14)
		PrintKeyValue("Days completed", strconv.Itoa(r.DaysCompleted), 14)
	}
	PrintKeyValue("Score range", r.ScoreRange.String(), 14)
	PrintKeyValue("Scores", strconv.Itoa(r.ScoresComputed), 14)
	if r.ScoresDeferred > 0 {
		PrintKeyValue("Deferred", strconv.Itoa(r.ScoresDeferred), 14)
	}
	if r.Latest != nil {
		PrintKeyValue("Latest", fmt.Sprintf("%s = %g", r.Latest.Day.Format(contracts.DateLayout), r.Latest.Value), 14)
	}
	PrintKeyValue("Notified", strconv.FormatBool(r.Notified), 14)
	PrintKeyValue("Duration", fmt.Sprintf("%dms", r.DurationMillis), 14)
	if r.Error != "" {
		PrintKeyValue("Error", r.Error, 14)
	}
	PrintSeparator()

	switch r.Outcome {
	case contracts.OutcomeCompleted:
		PrintSuccess("Run completed")
	case contracts.OutcomeBlocked:
		PrintWarning("Trend source not ready, nothing written")
	default:
		PrintError("Run aborted")
	}
}
