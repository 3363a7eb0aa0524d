package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tgwatch/collector/internal/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	cfg         = config.DefaultConfig()
	logLevelStr string
)

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "Mirror Telegram channels from public RSS mirrors into SQLite",
	Long: "collector polls several RSS mirrors for a list of Telegram channels, stores new posts " +
		"in SQLite and a plain-text log, and reports on what was collected.",
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		level, err := zerolog.ParseLevel(logLevelStr)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevelStr, err)
		}
		cfg.LogLevel = level
		zerolog.SetGlobalLevel(cfg.LogLevel)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("collector %s\n", Version)
	},
}

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.SettingsPath, "config", config.GetEnvString("COLLECTOR_CONFIG", config.DefaultSettingsPath),
		"Path to the settings file, JSON or YAML (env: COLLECTOR_CONFIG)")
	flags.StringVar(&cfg.DBPath, "db", config.GetEnvString("COLLECTOR_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: COLLECTOR_DB_PATH)")
	flags.StringVar(&logLevelStr, "log-level", config.GetEnvString("COLLECTOR_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: COLLECTOR_LOG_LEVEL)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
