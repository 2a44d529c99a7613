package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	env        string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fluscore",
	Short: "fluscore - flu-rate score collection pipeline",
	Long: `fluscore Unified CLI

Collects daily search-term observations from the Google Health Trends API,
runs the configured scoring function per model and serves the scores.

Usage:
  go run ./cmd/fluscore [command]

Examples:
  go run ./cmd/fluscore migrate up
  go run ./cmd/fluscore run --model 1 --start 2018-06-01
  go run ./cmd/fluscore scheduler start
  go run ./cmd/fluscore api`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// flags win over .env and the config file
		if configFile != "" {
			os.Setenv("FLUSCORE_CONFIG", configFile)
		}
		if cmd.Flags().Changed("env") {
			os.Setenv("ENV", env)
		}
		if verbose {
			os.Setenv("LOG_LEVEL", "debug")
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default: FLUSCORE_CONFIG, then .env and environment)")
	rootCmd.PersistentFlags().StringVar(&env, "env", "development", "environment (development|staging|production)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
