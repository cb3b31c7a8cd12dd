package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/i474232898/weather-station-feed/internal/feed"
	"github.com/i474232898/weather-station-feed/internal/station"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the feed once and print the extracted readings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		reader := feed.NewReader(feed.Options{Timeout: cfg.FetchTimeout})
		res := reader.Fetch(cmd.Context(), cfg.FeedURL)
		if !res.OK() {
			return fmt.Errorf("fetch %s (status %d): %w", cfg.FeedURL, res.StatusCode, res.Err)
		}

		snap, err := station.Extract(res.Body)
		if err != nil {
			return err
		}

		out := make(map[string]*string, len(cfg.Descriptors()))
		for _, d := range cfg.Descriptors() {
			if v, ok := snap.Value(d.Metric); ok {
				out[string(d.Metric)] = &v
			} else {
				out[string(d.Metric)] = nil
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
