package config

import (
	"reflect"
	"strings"

	logx "morningbot/pkg/logx"
)

// Restart-only sections. Only logging is applied live.
var restartSections = map[string]bool{
	"telegram": true, "scheduler": true, "task_engine": true,
	"content": true, "storage": true, "ops": true, "seed": true,
}

// SummarizeConfigChange lists the changed sections and safe log fields
// describing them. Secrets (tokens, DSNs) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.String("telegram.send_timeout", strings.TrimSpace(newCfg.Telegram.SendTimeout)),
			logx.Bool("telegram.admin_only_all", newCfg.Telegram.AdminOnlyAll),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs, logx.Int("task_engine.workers", newCfg.TaskEngine.Workers))
	}
	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		changed = append(changed, "content")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs, logx.Bool("ops.enabled", newCfg.Ops.Enabled))
	}
	if oldCfg.Seed != newCfg.Seed {
		changed = append(changed, "seed")
	}
	return changed, attrs
}

// NeedsRestart reports the changed sections that only take effect after a
// restart.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}
