package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// lookup parses the environment variable key, falling back to defaultValue
// when it is unset, empty or malformed. Malformed values are logged.
func lookup[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	val, err := parse(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", raw).Msg("Ignoring invalid environment value")
		return defaultValue
	}
	return val
}

// GetEnvString retrieves a string from environment variables or returns the default value.
// A variable set to the empty string overrides the default.
func GetEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves an integer from environment variables or returns the default value.
func GetEnvInt(key string, defaultValue int) int {
	return lookup(key, defaultValue, strconv.Atoi)
}

// GetEnvBool retrieves a boolean from environment variables or returns the default value.
func GetEnvBool(key string, defaultValue bool) bool {
	return lookup(key, defaultValue, strconv.ParseBool)
}

// GetEnvDuration retrieves a duration from environment variables or returns the default value.
// Values with a unit ("250ms", "10s", "1m") are parsed as Go durations, bare
// numbers as seconds.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return lookup(key, defaultValue, parseSecondsOrDuration)
}

// GetEnvLogLevel retrieves a log level from environment variables or returns the default value.
func GetEnvLogLevel(key string, defaultValue zerolog.Level) zerolog.Level {
	return lookup(key, defaultValue, zerolog.ParseLevel)
}

func parseSecondsOrDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
