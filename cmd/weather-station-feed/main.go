// Command weather-station-feed polls a weather station's XML feed and
// publishes its readings as individual sensors.
//
// Usage:
//
//	weather-station-feed serve [-c config.yaml]   # run the poller and HTTP API
//	weather-station-feed fetch [-c config.yaml]   # fetch and print one snapshot
//	weather-station-feed version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-station-feed/internal/config"
)

// Build metadata, set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configFile string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "weather-station-feed",
	Short: "Poll a weather station feed and publish its readings as sensors",
	Long: `weather-station-feed fetches a weather station's XML feed on a fixed
schedule, extracts humidity, temperature, pressure, wind, precipitation,
UV and solar radiation, and publishes each reading as its own sensor.

Configuration comes from the environment (and .env), optionally layered on
a YAML file given with --config.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "weather-station-feed %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	rootCmd.AddCommand(serveCmd, fetchCmd, versionCmd)
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(config.Options{File: configFile, EnvFiles: envFiles})
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}
