package config

import (
	"reflect"
	"strings"

	logx "datastash/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging (never includes tokens or passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage is not hot-swappable; surface it so the operator knows a restart is needed.
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)))
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.String("engine.poll_interval", strings.TrimSpace(newCfg.Engine.PollInterval)),
			logx.Int("engine.retain_runs", newCfg.Engine.RetainRuns),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Int("notifier.retry_max", n.RetryMax),
				logx.Bool("notifier.telegram", n.Telegram != nil && strings.TrimSpace(n.Telegram.Token) != ""),
				logx.Bool("notifier.smtp", n.SMTP != nil),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.token_set", strings.TrimSpace(newCfg.Metrics.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Recipe, newCfg.Recipe) {
		changed = append(changed, "recipe")
		attrs = append(attrs,
			logx.String("recipe.file", strings.TrimSpace(newCfg.Recipe.File)),
			logx.Bool("recipe.watch", newCfg.Recipe.Watch),
		)
	}

	return changed, attrs
}
