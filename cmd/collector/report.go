package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write a Markdown statistics report over the stored posts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runReport(cmd.Context(), cfg)
	},
}

func init() {
	reportCmd.Flags().StringVar(&cfg.ReportDir, "out", config.GetEnvString("COLLECTOR_REPORT_DIR", config.DefaultReportDir),
		"Directory the report is written to (env: COLLECTOR_REPORT_DIR)")
	rootCmd.AddCommand(reportCmd)
}

// runReport reads the store without modifying it and writes the report.
func runReport(ctx context.Context, cfg *config.Config) error {
	settings := config.LoadSettings(cfg.SettingsPath)

	dbCfg := database.NewConfig(cfg.DBPath)
	dbCfg.ReadOnly = true

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	stats, err := report.Load(ctx, db, settings.Analytics, time.Now())
	if err != nil {
		return err
	}

	path, err := report.Write(cfg.ReportDir, stats)
	if err != nil {
		return err
	}

	log.Info().
		Str("path", path).
		Str("posts", humanize.Comma(int64(stats.TotalPosts))).
		Int("channels", stats.UniqueChannels).
		Msg("Report written")
	return nil
}
