package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"tgwatch/collector/internal/database/migrations"
)

// DB represents the database connection
type DB struct {
	*sqlx.DB
	path string
}

// NewDB creates a new database connection with optimized settings
func NewDB(cfg *Config) (*DB, error) {
	if cfg.ReadOnly {
		if _, err := os.Stat(cfg.DBPath); err != nil {
			return nil, fmt.Errorf("database %s is not readable: %w", cfg.DBPath, err)
		}
	} else {
		dir := filepath.Dir(cfg.DBPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for database: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	// WAL mode lets the report and API readers run while the collector writes.
	// The file: prefix makes SQLite honour URI parameters such as mode=ro.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.DBPath, cfg.BusyTimeoutMS)

	if cfg.ReadOnly {
		dsn += "&mode=ro"
		log.Debug().Str("path", cfg.DBPath).Msg("Opening database in Read-Only mode")
	} else {
		dsn += "&_journal=WAL&_synchronous=NORMAL"
		log.Debug().Str("path", cfg.DBPath).Msg("Opening database in Read-Write mode")
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = %d;", cfg.CacheSizeKB),
		"PRAGMA temp_store = MEMORY;",
	}
	if cfg.ReadOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON;")
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Str("mode", modeStr(cfg.ReadOnly)).Msg("Failed to set PRAGMA")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !cfg.ReadOnly {
		if err := migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db (%s): %w", modeStr(cfg.ReadOnly), err)
	}

	log.Info().Str("path", cfg.DBPath).Str("mode", modeStr(cfg.ReadOnly)).Msg("Database connection successful")
	return &DB{DB: db, path: cfg.DBPath}, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	set, err := migrations.LoadMigrations(migrations.Embedded())
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	if err := migrations.RunMigrations(ctx, db, set); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Debug().Int("known", len(set)).Msg("Schema up to date")
	return nil
}

// Open is a shorthand for NewDB(NewConfig(path)) with the given access mode.
func Open(path string, readOnly bool) (*DB, error) {
	cfg := NewConfig(path)
	cfg.ReadOnly = readOnly
	return NewDB(cfg)
}

// Path returns the file the connection was opened on.
func (db *DB) Path() string {
	return db.path
}

// Helper for logging
func modeStr(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

// DeleteDB removes the database file and its WAL side files if they exist
func DeleteDB(dbPath string) error {
	for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if _, err := os.Stat(p); err == nil {
			if err := os.Remove(p); err != nil {
				return err
			}
		}
	}
	return nil
}
