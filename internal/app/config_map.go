package app

import (
	"fmt"
	"strings"
	"time"

	"datastash/internal/config"
	"datastash/internal/notifier"
	"datastash/internal/observability/metrics"
	"datastash/internal/pipeline"
	"datastash/internal/storage"
	"datastash/internal/task/engine"
	"datastash/internal/task/scheduler"
	logx "datastash/pkg/logx"
)

const defaultStorePath = "./datastash.db"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "memory":
		return storage.Config{Driver: driver}, nil
	case "", "sqlite":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultStorePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "postgres", "pgx":
		life, err := config.ParseDurationOrDefault("storage.conn_max_lifetime", sc.ConnMaxLife, 0)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{
			Driver:          "postgres",
			DSN:             strings.TrimSpace(sc.DSN),
			MaxOpenConns:    sc.MaxOpenConns,
			MaxIdleConns:    sc.MaxIdleConns,
			ConnMaxLifetime: life,
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	poll, err := config.ParseDurationOrDefault("engine.poll_interval", cfg.Engine.PollInterval, 0)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		WorkDir:        strings.TrimSpace(cfg.Engine.WorkDir),
		PollInterval:   poll,
		RetainRuns:     cfg.Engine.RetainRuns,
		RecoverOrphans: cfg.Engine.RecoverOrphans,
	}, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	wait, err := config.ParseDurationOrDefault("engine.output_wait", cfg.Engine.OutputWait, pipeline.DefaultOutputWait)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{Shell: strings.TrimSpace(cfg.Engine.Shell), Env: cfg.Engine.Env, OutputWait: wait}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}

// mapNotifierConfig leaves zero values for the notifier to default.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}, nil
	}
	var err error
	out := notifier.Config{RatePerSec: n.RatePerSec, RetryMax: n.RetryMax}
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 0); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 0); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, 0); err != nil {
		return notifier.Config{}, err
	}
	if n.Telegram != nil {
		out.TelegramToken = strings.TrimSpace(n.Telegram.Token)
	}
	if n.SMTP != nil {
		out.SMTP = notifier.SMTPConfig{
			Addr:     strings.TrimSpace(n.SMTP.Addr),
			From:     strings.TrimSpace(n.SMTP.From),
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			StartTLS: n.SMTP.StartTLS,
		}
	}
	return out, nil
}

func mapMetricsConfig(cfg *config.Config) (metrics.ServerConfig, error) {
	mc := cfg.Metrics
	parse := func(path, raw string, def time.Duration) (time.Duration, error) {
		return config.ParseDurationOrDefault(path, raw, def)
	}
	read, err := parse("metrics.read_timeout", mc.ReadTimeout, 5*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	write, err := parse("metrics.write_timeout", mc.WriteTimeout, 10*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	idle, err := parse("metrics.idle_timeout", mc.IdleTimeout, 60*time.Second)
	if err != nil {
		return metrics.ServerConfig{}, err
	}
	return metrics.ServerConfig{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Path:          strings.TrimSpace(mc.Path),
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validateConfig is installed as the reload validator; it rejects configs
// that parse but cannot be mapped onto the services.
func validateConfig(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPipelineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMetricsConfig(cfg); err != nil {
		return err
	}
	return nil
}
