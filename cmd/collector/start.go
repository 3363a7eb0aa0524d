package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/fanout"
	"tgwatch/collector/internal/process"
	"tgwatch/collector/internal/store"
	"tgwatch/collector/internal/textlog"
)

const latestOnStart = 5

var startOnce bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Poll the configured channels until interrupted",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStart(cfg, startOnce)
	},
}

func init() {
	flags := startCmd.Flags()
	flags.StringVar(&cfg.MirrorPath, "mirror", config.GetEnvString("COLLECTOR_MIRROR_PATH", config.DefaultMirrorPath),
		"Path to the plain-text post log, empty to disable (env: COLLECTOR_MIRROR_PATH)")
	flags.DurationVar(&cfg.FetchTimeout, "fetch-timeout", cfg.FetchTimeout,
		"Timeout of a single mirror request (env: COLLECTOR_FETCH_TIMEOUT)")
	flags.DurationVar(&cfg.HostDelay, "host-rate", cfg.HostDelay,
		"Minimum delay between two requests to the same mirror host (env: COLLECTOR_HOST_RATE)")
	flags.BoolVar(&cfg.InsecureTLS, "insecure-tls", cfg.InsecureTLS,
		"Skip TLS certificate verification of mirrors (env: COLLECTOR_INSECURE_TLS)")
	flags.BoolVar(&startOnce, "once", false, "Run a single collection cycle and exit")

	rootCmd.AddCommand(startCmd)
}

// runStart runs the collection loop until a shutdown signal arrives, or a
// single cycle in one-shot mode.
func runStart(cfg *config.Config, once bool) error {
	settings := config.LoadSettings(cfg.SettingsPath)
	if len(settings.Channels) == 0 {
		log.Warn().Str("config", cfg.SettingsPath).Msg("No channels configured, nothing will be collected")
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var mirror *textlog.Mirror
	if cfg.MirrorPath != "" {
		mirror = textlog.New(cfg.MirrorPath)
	}
	posts := store.New(db, mirror)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	go func() {
		select {
		case sig := <-shutdown:
			log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, p := range posts.Latest(ctx, latestOnStart) {
		log.Debug().
			Str("post_id", p.PostID).
			Time("published", p.PublishedDate).
			Str("source", p.SourceURL).
			Msg("Latest stored post")
	}

	controller, err := process.NewController(fanout.New(fanout.DefaultOptions(cfg)), posts, settings)
	if err != nil {
		return fmt.Errorf("failed to initialize controller: %w", err)
	}

	if once {
		log.Info().Msg("Running in one-shot mode")
		n := controller.Tick(ctx)
		log.Info().Int("new_posts", n).Msg("One-shot collection completed, exiting")
		return nil
	}

	return controller.Run(ctx)
}
