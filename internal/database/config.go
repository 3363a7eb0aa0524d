package database

import "time"

const (
	defaultMaxIdleConns    = 4
	defaultMaxOpenConns    = 4
	defaultConnMaxLifetime = time.Hour
	defaultCacheSizeKB     = -64000 // negative means KiB, so 64MB
	defaultBusyTimeoutMS   = 5000
)

// Config describes how a post store file is opened.
type Config struct {
	DBPath   string
	ReadOnly bool

	// Zero values fall back to the package defaults.
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
}

// NewConfig returns a read-write configuration for dbPath.
func NewConfig(dbPath string) *Config {
	c := &Config{DBPath: dbPath}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.CacheSizeKB == 0 {
		c.CacheSizeKB = defaultCacheSizeKB
	}
	if c.BusyTimeoutMS <= 0 {
		c.BusyTimeoutMS = defaultBusyTimeoutMS
	}
}
