package app

import (
	"strings"

	"morningbot/internal/config"
	"morningbot/internal/content"
	"morningbot/internal/observability/opsserver"
	"morningbot/internal/scheduler"
	"morningbot/internal/storage"
	"morningbot/internal/task/engine"
	telegram "morningbot/internal/transport/telegram/adapter"
)

// The map* helpers translate a validated config into component configs.

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		TablePrefix: strings.TrimSpace(cfg.Storage.TablePrefix),
		BusyTimeout: cfg.BusyTimeout(),
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: cfg.PollTimeout(),
		SendTimeout: cfg.SendTimeout(),
		RatePerSec:  cfg.Telegram.RatePerSec,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}
}

func mapTaskEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: cfg.FireTimeout(),
		MaxQueueDelay:  cfg.MaxQueueDelay(),
		HistorySize:    cfg.TaskEngine.HistorySize,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		FireTimeout: cfg.FireTimeout(),
	}
}

func mapContentConfig(cfg *config.Config) content.Config {
	cc := content.Config{
		Caption:       strings.TrimSpace(cfg.Content.Caption),
		Stickers:      content.DefaultStickers,
		MixedStickers: content.DefaultMixedStickers,
	}
	if len(cfg.Content.Stickers) > 0 {
		cc.Stickers = cfg.Content.Stickers
	}
	if len(cfg.Content.MixedStickers) > 0 {
		cc.MixedStickers = cfg.Content.MixedStickers
	}
	return cc
}

func mapOpsConfig(cfg *config.Config) opsserver.Config {
	return opsserver.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          strings.TrimSpace(cfg.Ops.Addr),
		Pprof:         cfg.Ops.Pprof,
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
	}
}
