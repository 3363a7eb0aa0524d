package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/consolidate"
	"tgwatch/collector/internal/database"
)

type pullOptions struct {
	from   string
	apiKey string
	since  time.Duration
}

var pullOpts pullOptions

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Copy recent posts from another collector's API into the local store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runPull(cmd.Context(), cfg, pullOpts)
	},
}

func init() {
	flags := pullCmd.Flags()
	flags.StringVar(&pullOpts.from, "from", config.GetEnvString("COLLECTOR_PULL_URL", ""),
		"Base URL of the remote collector API (env: COLLECTOR_PULL_URL)")
	flags.StringVar(&pullOpts.apiKey, "remote-api-key", config.GetEnvString("COLLECTOR_PULL_API_KEY", ""),
		"X-API-Key of the remote collector (env: COLLECTOR_PULL_API_KEY)")
	flags.DurationVar(&pullOpts.since, "since", 72*time.Hour,
		"Pull posts ingested within this window")

	rootCmd.AddCommand(pullCmd)
}

// runPull copies every remote post ingested within opts.since into cfg.DBPath.
func runPull(ctx context.Context, cfg *config.Config, opts pullOptions) error {
	if opts.from == "" {
		return fmt.Errorf("--from is required")
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	since := time.Now().Add(-opts.since).UTC()
	res, err := consolidate.NewPuller(nil, opts.from, opts.apiKey).Pull(ctx, db, since)
	if err != nil {
		return err
	}

	fmt.Printf("Pulled %s posts from %s, %s new, newest ingested %s\n",
		humanize.Comma(int64(res.Received)),
		opts.from,
		humanize.Comma(int64(res.Merged)),
		humanize.Time(res.Latest))
	return nil
}
