package config

import (
	"strings"

	logx "morningbot/pkg/logx"
)

// TokenEnv supplies telegram.token when it is not in the file.
const TokenEnv = "MORNINGBOT_TOKEN"

type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Content    ContentConfig    `json:"content"`
	Storage    StorageConfig    `json:"storage"`
	Ops        OpsConfig        `json:"ops"`
	Seed       SeedConfig       `json:"seed"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// SendTimeout bounds each outbound Bot API call. Default 10s.
	SendTimeout string `json:"send_timeout,omitempty"`
	// RatePerSec bounds outbound Bot API calls. Default 25.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// AdminOnlyAll extends the admin check to /language, /skip and /stop.
	AdminOnlyAll bool `json:"admin_only_all,omitempty"`
	// APIURL points at a self-hosted Bot API server.
	APIURL string `json:"api_url,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls when firings trigger.
//
// Defaults:
//   - timezone: the process's local zone
//   - fire_timeout: "30s"
type SchedulerConfig struct {
	Timezone    string `json:"timezone,omitempty"`
	FireTimeout string `json:"fire_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that executes firings.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 256
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 100
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
	// MaxQueueDelay drops firings that waited longer than this for a worker.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// ContentConfig controls upstream content and sticker sets. Empty fields
// use the built-in defaults.
type ContentConfig struct {
	QuoteURL       string   `json:"quote_url,omitempty"`
	ImageURL       string   `json:"image_url,omitempty"`
	FetchTimeout   string   `json:"fetch_timeout,omitempty"`
	QuoteCacheSize int      `json:"quote_cache_size,omitempty"`
	Caption        string   `json:"caption,omitempty"`
	Stickers       []string `json:"stickers,omitempty"`
	MixedStickers  []string `json:"mixed_stickers,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	TablePrefix string `json:"table_prefix,omitempty"`
}

// OpsConfig controls the optional /metrics, /healthz and pprof server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:9090").
//   - A non-loopback address requires a token or allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// SeedConfig names JSON or YAML files imported into an empty store.
type SeedConfig struct {
	FallbackFile  string `json:"fallback_file,omitempty"`
	FestivalsFile string `json:"festivals_file,omitempty"`
}

// LogConfig maps the logging section to the logger's own config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   strings.TrimSpace(c.Logging.Level),
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    strings.TrimSpace(c.Logging.File.Path),
		},
	}
}
