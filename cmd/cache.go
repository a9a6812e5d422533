package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/josephgoksu/TriageWing/internal/cache"
	"github.com/josephgoksu/TriageWing/internal/config"
	"github.com/josephgoksu/TriageWing/internal/ui"
)

var cacheJSON bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the verdict cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show where the cache lives and how many verdicts it holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCacheStats(cmd.OutOrStdout(), cacheJSON, isTerminalWriter(cmd.OutOrStdout()))
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached verdict",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := openCache()
		defer func() { _ = c.Close() }()

		if err := c.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", c.Dir())
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cached verdicts older than the disk TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := openCache()
		defer func() { _ = c.Close() }()

		n := c.CleanupExpired()
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries from %s\n", n, c.Dir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheCleanupCmd)
	cacheStatsCmd.Flags().BoolVar(&cacheJSON, "json", false, "print stats as JSON")
}

func openCache() *cache.Tiered {
	return cache.New(config.LoadCacheConfig(appFs))
}

type cacheReport struct {
	Dir       string      `json:"dir"`
	Persist   bool        `json:"persist"`
	DiskTTL   string      `json:"disk_ttl"`
	MemoryTTL string      `json:"memory_ttl"`
	Stats     cache.Stats `json:"stats"`
}

func runCacheStats(w io.Writer, asJSON, styled bool) error {
	cfg := config.LoadCacheConfig(appFs)
	c := cache.New(cfg)
	defer func() { _ = c.Close() }()

	report := cacheReport{
		Dir:       c.Dir(),
		Persist:   cfg.Persist,
		DiskTTL:   cfg.DiskTTL.String(),
		MemoryTTL: cfg.MemoryTTL.String(),
		Stats:     c.Stats(),
	}

	if asJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	persist := "on"
	if !report.Persist {
		persist = "off"
	}
	ui.Panel(w, "Verdict cache", []ui.Row{
		{Label: "directory", Value: report.Dir},
		{Label: "disk tier", Value: persist},
		{Label: "disk entries", Value: fmt.Sprint(report.Stats.L2Size), Style: &ui.StyleSuccess},
		{Label: "disk ttl", Value: report.DiskTTL},
		{Label: "memory ttl", Value: report.MemoryTTL},
	}, styled)
	return nil
}
