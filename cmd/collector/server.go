package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/server"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the stored posts over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServer(cmd.Context(), cfg)
	},
}

func init() {
	flags := serverCmd.Flags()
	flags.StringVar(&cfg.ServerHost, "host", config.GetEnvString("COLLECTOR_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: COLLECTOR_HOST)")
	flags.IntVar(&cfg.ServerPort, "port", config.GetEnvInt("COLLECTOR_PORT", config.DefaultServerPort),
		"Port to listen on (env: COLLECTOR_PORT)")
	flags.StringVar(&cfg.APIKey, "api-key", cfg.APIKey,
		"Require this X-API-Key header, empty to disable (env: COLLECTOR_API_KEY)")

	rootCmd.AddCommand(serverCmd)
}

// runServer starts the HTTP API server over a read-only connection.
func runServer(ctx context.Context, cfg *config.Config) error {
	log.Debug().Msg("Starting server with debug logging enabled")

	settings := config.LoadSettings(cfg.SettingsPath)

	dbCfg := database.NewConfig(cfg.DBPath)
	dbCfg.ReadOnly = true

	db, err := database.NewDB(dbCfg)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	return server.RunServer(ctx, db, settings.Analytics, cfg.ListenAddr(), log.Logger, cfg.APIKey)
}
