package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var knownDrivers = map[string]bool{
	"": true, "file": true,
	"sqlite": true, "sqlite3": true,
	"bolt": true, "bbolt": true,
	"postgres": true, "postgresql": true, "pg": true,
	"memory": true, "mem": true,
}

var knownLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

// Validate checks every field that would otherwise fail late at startup.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		check(fmt.Errorf("telegram.token is required (or set %s)", TokenEnv))
	}
	if cfg.Telegram.RatePerSec < 0 {
		check(errors.New("telegram.rate_per_sec must be >= 0"))
	}
	if !knownLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		check(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		check(errors.New("task_engine: workers, queue_size and history_size must be >= 0"))
	}
	if cfg.Content.QuoteCacheSize < 0 {
		check(errors.New("content.quote_cache_size must be >= 0"))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"telegram.send_timeout":       cfg.Telegram.SendTimeout,
		"scheduler.fire_timeout":      cfg.Scheduler.FireTimeout,
		"task_engine.max_queue_delay": cfg.TaskEngine.MaxQueueDelay,
		"content.fetch_timeout":       cfg.Content.FetchTimeout,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !knownDrivers[driver] {
		check(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	switch driver {
	case "sqlite", "sqlite3", "bolt", "bbolt":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			check(fmt.Errorf("storage.path is required when storage.driver=%s", driver))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			check(errors.New("storage.dsn is required when storage.driver=postgres"))
		}
	}

	for i, id := range cfg.Content.Stickers {
		if strings.TrimSpace(id) == "" {
			check(fmt.Errorf("content.stickers[%d] is empty", i))
		}
	}
	for i, id := range cfg.Content.MixedStickers {
		if strings.TrimSpace(id) == "" {
			check(fmt.Errorf("content.mixed_stickers[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}
