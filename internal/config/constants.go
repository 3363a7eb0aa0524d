package config

import "time"

// Constants defining default values for application configuration
const (
	DefaultSettingsPath = "./config.json"
	DefaultDBPath       = "./tg-posts.db"
	DefaultMirrorPath   = "./tg-posts.txt"
	DefaultReportDir    = "./analytics"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultFetchTimeout = 10 * time.Second
	DefaultHostDelay    = 250 * time.Millisecond
	DefaultInsecureTLS  = true

	DefaultLogLevel = "info"

	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// Polling interval defaults in seconds, used when the settings file omits them
const (
	DefaultInitialInterval = 30
	DefaultMinInterval     = 15
	DefaultMaxInterval     = 60
	DefaultIntervalStep    = 5
)

// MirrorTemplates are the RSS mirrors queried for every channel, in order.
// "{channel}" is replaced with the channel identifier.
var MirrorTemplates = []string{
	"https://tg.i-c-a.su/rss/{channel}",
	"https://rsshub.app/telegram/channel/{channel}",
	"https://telegram.meta.ua/rss/{channel}",
	"https://tg.i-c-a.su/rss/{channel}?format=html",
}
