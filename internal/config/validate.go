package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks field formats. Defaults are applied by the owning services.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "sqlite", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); (d == "postgres" || d == "pgx") && strings.TrimSpace(cfg.Storage.DSN) == "" {
		errs = append(errs, errors.New("storage.dsn: required for postgres"))
	}

	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)
	check("storage.conn_max_lifetime", cfg.Storage.ConnMaxLife)
	check("engine.poll_interval", cfg.Engine.PollInterval)
	check("metrics.read_timeout", cfg.Metrics.ReadTimeout)
	check("metrics.write_timeout", cfg.Metrics.WriteTimeout)
	check("metrics.idle_timeout", cfg.Metrics.IdleTimeout)
	if n := cfg.Notifier; n != nil {
		check("notifier.retry_base", n.RetryBase)
		check("notifier.retry_max_delay", n.RetryMaxDelay)
		check("notifier.send_timeout", n.SendTimeout)
		if n.RatePerSec < 0 {
			errs = append(errs, errors.New("notifier.rate_per_sec: must be >= 0"))
		}
		if n.RetryMax < 0 {
			errs = append(errs, errors.New("notifier.retry_max: must be >= 0"))
		}
		if n.SMTP != nil && (strings.TrimSpace(n.SMTP.Addr) == "" || strings.TrimSpace(n.SMTP.From) == "") {
			errs = append(errs, errors.New("notifier.smtp: addr and from are required"))
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	for _, kv := range cfg.Engine.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("engine.env: %q is not KEY=VALUE", kv))
		}
	}
	if cfg.Recipe.Watch && strings.TrimSpace(cfg.Recipe.File) == "" {
		errs = append(errs, errors.New("recipe.watch: requires recipe.file"))
	}
	return errors.Join(errs...)
}
