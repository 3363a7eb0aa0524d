package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/consolidate"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/normalize"
)

type mergeOptions struct {
	removeSources bool
	rescrubOnly   bool
	fresh         bool
	yes           bool
}

var mergeOpts mergeOptions

var mergeCmd = &cobra.Command{
	Use:   "merge [source.db ...]",
	Short: "Merge other post stores into the configured one",
	Long: "merge copies every post of the given stores (default: all *.db files next to the target) " +
		"into the target store, re-applying the text cleanup rules. Posts already present are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMerge(cmd.Context(), cfg, args, mergeOpts)
	},
}

func init() {
	flags := mergeCmd.Flags()
	flags.BoolVar(&mergeOpts.removeSources, "remove-sources", false,
		"Back up and delete the source stores after a merge that added posts")
	flags.BoolVar(&mergeOpts.rescrubOnly, "rescrub-only", false,
		"Only re-apply the text cleanup rules to the target store")
	flags.BoolVar(&mergeOpts.fresh, "fresh", false, "Delete the target store before merging")
	flags.BoolVarP(&mergeOpts.yes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(mergeCmd)
}

// runMerge consolidates stores into cfg.DBPath. It will prompt for
// confirmation before deleting an existing target or the sources.
func runMerge(ctx context.Context, cfg *config.Config, sources []string, opts mergeOptions) error {
	settings := config.LoadSettings(cfg.SettingsPath)
	normalizer := normalize.FromSettings(settings.TextCleanup)

	if opts.fresh && !opts.rescrubOnly {
		if _, err := os.Stat(cfg.DBPath); err == nil {
			if !opts.yes && !confirm(fmt.Sprintf("Database %s already exists. All data will be lost.\nDelete and recreate?", cfg.DBPath)) {
				log.Info().Msg("Operation canceled by user")
				return fmt.Errorf("operation canceled by user")
			}
			if err := database.DeleteDB(cfg.DBPath); err != nil {
				log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to delete existing database")
				return fmt.Errorf("failed to delete existing database: %w", err)
			}
			log.Info().Str("path", cfg.DBPath).Msg("Deleted existing database")
		}
	}

	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("Failed to initialize database")
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if opts.rescrubOnly {
		updated, err := consolidate.Rescrub(ctx, db, normalizer)
		if err != nil {
			return err
		}
		fmt.Printf("Cleaned %s posts in %s\n", humanize.Comma(int64(updated)), cfg.DBPath)
		return nil
	}

	if len(sources) == 0 {
		sources, err = consolidate.Discover(filepath.Dir(cfg.DBPath), cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to list stores: %w", err)
		}
	}
	if len(sources) == 0 {
		log.Info().Msg("No source stores to merge")
		return nil
	}

	if opts.removeSources && !opts.yes &&
		!confirm(fmt.Sprintf("%d source stores will be deleted after a backup.\nContinue?", len(sources))) {
		log.Info().Msg("Operation canceled by user")
		return fmt.Errorf("operation canceled by user")
	}

	res := consolidate.NewMerger(db, normalizer).Merge(ctx, sources)

	if opts.removeSources {
		if err := consolidate.BackupAndRemove(res, filepath.Dir(cfg.DBPath), time.Now()); err != nil {
			return err
		}
	}

	printMergeSummary(res)
	return nil
}

func printMergeSummary(res *consolidate.Result) {
	read, merged := res.Read(), res.Merged()
	duplicates := 0
	for _, s := range res.Sources {
		if s.Err == nil {
			duplicates += s.Duplicates
		}
	}

	fmt.Println("\n=== Merge summary ===")
	fmt.Printf("Stores processed:     %d of %d\n", len(res.Processed()), len(res.Sources))
	fmt.Printf("Rows in sources:      %s\n", humanize.Comma(int64(read)))
	fmt.Printf("New rows in target:   %s\n", humanize.Comma(int64(merged)))
	fmt.Printf("Duplicates skipped:   %s\n", humanize.Comma(int64(duplicates)))
	fmt.Printf("Target:               %s\n", res.Target)
	if res.BackupDir != "" {
		fmt.Printf("Backup directory:     %s\n", res.BackupDir)
		fmt.Printf("Sources removed:      %d\n", len(res.Removed))
	}

	for _, s := range res.Sources {
		if s.Err != nil {
			fmt.Printf("  - %s: %v\n", s.Path, s.Err)
		}
	}
}

func confirm(question string) bool {
	fmt.Printf("%s (y/N): ", question)

	var answer string
	fmt.Scanln(&answer)
	return strings.ToLower(answer) == "y"
}
