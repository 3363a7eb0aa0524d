package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all process configuration for the application
type Config struct {
	// File paths
	SettingsPath string
	DBPath       string
	MirrorPath   string
	ReportDir    string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Fetch settings
	FetchTimeout time.Duration
	HostDelay    time.Duration
	InsecureTLS  bool

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		SettingsPath: DefaultSettingsPath,
		DBPath:       DefaultDBPath,
		MirrorPath:   DefaultMirrorPath,
		ReportDir:    DefaultReportDir,
		ServerHost:   DefaultServerHost,
		ServerPort:   DefaultServerPort,
		APIKey:       GetEnvString("COLLECTOR_API_KEY", ""),
		FetchTimeout: GetEnvDuration("COLLECTOR_FETCH_TIMEOUT", DefaultFetchTimeout),
		HostDelay:    GetEnvDuration("COLLECTOR_HOST_RATE", DefaultHostDelay),
		InsecureTLS:  GetEnvBool("COLLECTOR_INSECURE_TLS", DefaultInsecureTLS),
		LogLevel:     GetEnvLogLevel("COLLECTOR_LOG_LEVEL", logLevel),
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
