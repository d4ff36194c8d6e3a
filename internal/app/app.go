package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"datastash/internal/config"
	"datastash/internal/eventbus"
	"datastash/internal/notifier"
	"datastash/internal/observability/metrics"
	"datastash/internal/pipeline"
	"datastash/internal/runs"
	"datastash/internal/storage"
	"datastash/internal/task/engine"
	"datastash/internal/task/scheduler"
	logx "datastash/pkg/logx"
	"datastash/pkg/systemd"

	rtsup "datastash/internal/runtime/supervisor"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	repo  *runs.Repository

	runner  *pipeline.Runner
	notif   *notifier.Service
	engine  *engine.Service
	sched   *scheduler.Registry
	metrics *metrics.Metrics
	msrv    *metrics.Server

	// armedRev is the recipe revision the schedule was last armed from.
	armMu    sync.Mutex
	armedRev string

	closeOnce sync.Once
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	engCfg, _ := mapEngineConfig(cfg)
	pcfg, _ := mapPipelineConfig(cfg)
	ncfg, _ := mapNotifierConfig(cfg)
	msrvCfg, _ := mapMetricsConfig(cfg)

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	appLog.Debug("storage opened", logx.String("driver", sc.Driver))

	bus := eventbus.New()
	runner := pipeline.New(pcfg, log.With(logx.String("comp", "pipeline")))
	notifSvc := notifier.New(ncfg, log.With(logx.String("comp", "notifier")), bus)
	engineSvc := engine.New(engCfg, store, runner, notifSvc, log.With(logx.String("comp", "engine")), bus)
	sched := scheduler.New(mapSchedulerConfig(cfg), log.With(logx.String("comp", "scheduler")))

	m := metrics.New()
	msrv := metrics.NewServer(msrvCfg, m, log.With(logx.String("comp", "metrics")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		repo:    runs.NewRepository(store),
		runner:  runner,
		notif:   notifSvc,
		engine:  engineSvc,
		sched:   sched,
		metrics: m,
		msrv:    msrv,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon: schedule timers, the run engine poll loop, config and
// recipe watchers and the optional metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	c := a.sup.Context()
	cfg := a.cfgm.Get()

	if path := strings.TrimSpace(cfg.Recipe.File); path != "" {
		if err := a.loadRecipeFile(c, path); err != nil {
			return fmt.Errorf("recipe file: %w", err)
		}
	}
	if err := a.syncSchedule(c); err != nil {
		a.log.Warn("schedule not armed", logx.Err(err))
	}

	if cfg.Scheduler.Enabled {
		a.sched.Start()
	}
	a.engine.Start(c)
	if mc, err := mapMetricsConfig(cfg); err == nil {
		a.msrv.Reconfigure(c, mc)
	}

	a.sup.Go0("metrics.consume", func(c context.Context) {
		a.metrics.Consume(c, a.bus)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("recipe.sync", func(c context.Context) {
		t := time.NewTicker(recipeSyncInterval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if err := a.syncSchedule(c); err != nil && c.Err() == nil {
					a.log.Warn("schedule sync failed", logx.Err(err))
				}
			}
		}
	})

	if path := strings.TrimSpace(cfg.Recipe.File); path != "" && cfg.Recipe.Watch {
		a.sup.Go("recipe.watch", func(c context.Context) error {
			return config.WatchFile(c, path, a.log.With(logx.String("comp", "recipe")), func() {
				if err := a.loadRecipeFile(c, path); err != nil {
					a.log.Warn("recipe file rejected; keeping previous", logx.String("path", path), logx.Err(err))
				}
			})
		})
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		systemd.Watchdog(c, a.log)
	})
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}

	a.log.Info("app started", logx.String("config", a.cfgPath), logx.Bool("scheduler", cfg.Scheduler.Enabled))
	return nil
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "storage" || s == "recipe" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(next))
	if pc, err := mapPipelineConfig(next); err != nil {
		a.log.Warn("invalid pipeline config; keeping previous", logx.Err(err))
	} else {
		a.runner.Apply(pc)
	}

	if ec, err := mapEngineConfig(next); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ec)
	}

	a.sched.Apply(mapSchedulerConfig(next))
	switch {
	case prev.Scheduler.Enabled && !next.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prev.Scheduler.Enabled && next.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start()
	}

	if nc, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
	}

	if mc, err := mapMetricsConfig(next); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.msrv.Reconfigure(c, mc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			// respect the caller's deadline; never extend it
			max = min(max, time.Until(dl))
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Timers first so nothing new is queued, then the engine so an in-flight run can finish.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("metrics", 1*time.Second, func(c context.Context) error { a.msrv.Stop(c); return nil })

	err := a.sup.Err()
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if werr := a.sup.Wait(c); werr != nil && c.Err() != nil {
			return werr
		}
		return nil
	})

	a.log.Info("stopped")
	if cerr := a.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases storage and log outputs. It is safe to call more than once and
// is what one-shot commands use instead of Start/Stop.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.store != nil {
			err = a.store.Close()
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
	return err
}
