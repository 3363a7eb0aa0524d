// Package migrations versions the posts schema. Migrations are SQL file pairs
// named <version>_<name>.up.sql and <version>_<name>.down.sql, compiled into
// the binary and applied in version order.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed *.sql
var files embed.FS

// Embedded returns the migration files compiled into the binary.
func Embedded() fs.FS {
	return files
}

// Migration is one schema version with its apply and revert scripts.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// LoadMigrations reads the migration pairs at the root of fsys, ordered by version.
// Files that do not follow the naming scheme are logged and skipped.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, up, ok := parseFileName(entry.Name())
		if !ok {
			if strings.HasSuffix(entry.Name(), ".sql") {
				log.Warn().Str("file", entry.Name()).Msg("Skipping invalid migration file")
			}
			continue
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		m, exists := byVersion[version]
		if !exists {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %d (%s) has no up script", m.Version, m.Name)
		}
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	log.Debug().Int("count", len(migrations)).Msg("Loaded migrations")
	return migrations, nil
}

// parseFileName splits "0002_index_published_date.up.sql" into its parts.
func parseFileName(file string) (version int, name string, up bool, ok bool) {
	var base string
	switch {
	case strings.HasSuffix(file, ".up.sql"):
		base, up = strings.TrimSuffix(file, ".up.sql"), true
	case strings.HasSuffix(file, ".down.sql"):
		base = strings.TrimSuffix(file, ".down.sql")
	default:
		return 0, "", false, false
	}

	num, name, found := strings.Cut(base, "_")
	if !found {
		return 0, "", false, false
	}
	version, err := strconv.Atoi(num)
	if err != nil || version <= 0 {
		return 0, "", false, false
	}
	return version, name, up, true
}

// Applied returns the applied versions in ascending order.
func Applied(ctx context.Context, db *sqlx.DB) ([]int, error) {
	if err := ensureTable(ctx, db); err != nil {
		return nil, err
	}
	var versions []int
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM migrations ORDER BY version`); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	return versions, nil
}

// RunMigrations applies every migration not yet recorded, each in its own transaction.
func RunMigrations(ctx context.Context, db *sqlx.DB, migrations []Migration) error {
	versions, err := Applied(ctx, db)
	if err != nil {
		return err
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	for _, m := range migrations {
		if applied[m.Version] {
			log.Debug().Int("version", m.Version).Msg("Migration already applied, skipping")
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Running migration")
		err := inTx(ctx, db, m.Up, `INSERT INTO migrations (version) VALUES (?)`, m.Version)
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackMigrations reverts the last n applied migrations, newest first.
// Migrations without a down script are left applied.
func RollbackMigrations(ctx context.Context, db *sqlx.DB, migrations []Migration, n int) error {
	versions, err := Applied(ctx, db)
	if err != nil {
		return err
	}

	known := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		known[m.Version] = m
	}

	for i := len(versions) - 1; i >= 0 && n > 0; i-- {
		n--
		m, ok := known[versions[i]]
		if !ok || m.Down == "" {
			log.Warn().Int("version", versions[i]).Msg("No down migration found, skipping")
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Rolling back migration")
		err := inTx(ctx, db, m.Down, `DELETE FROM migrations WHERE version = ?`, m.Version)
		if err != nil {
			return fmt.Errorf("rollback of migration %d failed: %w", m.Version, err)
		}
	}
	return nil
}

func ensureTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// inTx runs script and the bookkeeping statement atomically.
func inTx(ctx context.Context, db *sqlx.DB, script, record string, version int) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record version: %w", err)
	}
	return tx.Commit()
}
