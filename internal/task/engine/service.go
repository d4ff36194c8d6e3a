package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"datastash/internal/eventbus"
	"datastash/internal/notifier"
	"datastash/internal/retention"
	"datastash/internal/runs"
	"datastash/internal/storage"
	logx "datastash/pkg/logx"

	rtsup "datastash/internal/runtime/supervisor"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultRetainRuns   = 10
	defaultWorkDir      = "./source"
)

// Service owns the run queue and the single worker that drains it.
//
// Enqueue and Tick are each serialized; Tick never starts a run while another
// run is recorded as running, so at most one run executes at a time.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	store    storage.Store
	repo     *runs.Repository
	exec     Executor
	notifier notifier.Notifier
	pruner   Pruner
	now      func() time.Time

	enqMu  sync.Mutex
	tickMu sync.Mutex

	// guarded by tickMu
	unsaved        *runs.Run
	persistBackoff time.Duration

	kick chan struct{}
	sup  *rtsup.Supervisor
}

type Option func(*Service)

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithPersistBackoff sets the first delay between terminal-state write attempts.
func WithPersistBackoff(d time.Duration) Option { return func(s *Service) { s.persistBackoff = d } }

// WithPruner replaces the default retention manager.
func WithPruner(p Pruner) Option { return func(s *Service) { s.pruner = p } }

func New(cfg Config, store storage.Store, exec Executor, n notifier.Notifier, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		store:    store,
		repo:     runs.NewRepository(store),
		exec:     exec,
		notifier: n,
		now:      time.Now,
		kick:     make(chan struct{}, 1),

		persistBackoff: 250 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	if s.pruner == nil {
		s.pruner = retention.New(store, log.With(logx.String("comp", "retention")), bus)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaultWorkDir
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetainRuns == 0 {
		cfg.RetainRuns = defaultRetainRuns
	}
	s.cfg = cfg
}

// WorkDir is the directory pipelines run in.
func (s *Service) WorkDir() string { return s.config().WorkDir }

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Enqueue records a queued run for initiator and returns it with created=true.
// If a queued run with the same initiator already exists, that run is returned
// with created=false and nothing is written.
func (s *Service) Enqueue(ctx context.Context, initiator runs.Initiator) (*runs.Run, bool, error) {
	if !initiator.Valid() {
		return nil, false, fmt.Errorf("%w %q", ErrInvalidRequest, initiator)
	}
	s.enqMu.Lock()
	defer s.enqMu.Unlock()

	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("list runs: %w", err)
	}
	for _, r := range list {
		if r.State == runs.Queued && r.Initiator == initiator {
			s.log.Debug("enqueue deduplicated", logx.String("run", r.ID), logx.String("initiator", string(initiator)))
			return r, false, nil
		}
	}

	now := s.now().UTC()
	r := &runs.Run{ID: runs.NewID(now), State: runs.Queued, Initiator: initiator, DateQueued: now}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	s.log.Info("run.queued", logx.String("run", r.ID), logx.String("initiator", string(initiator)))
	s.publish(eventbus.RunQueued, r)

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return r, true, nil
}

// Tick starts the oldest queued run if no run is running and executes it to a
// terminal state before returning. It returns a nil run when there was nothing
// to do. A run whose terminal state could not be written is returned together
// with an error wrapping ErrPersist.
func (s *Service) Tick(ctx context.Context) (*runs.Run, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if err := s.flushUnsaved(ctx); err != nil {
		return nil, err
	}
	run, err := s.claim(ctx)
	if err != nil || run == nil {
		return nil, err
	}
	return run, s.execute(ctx, run)
}

// claim moves the oldest queued run to running. Call with tickMu held.
func (s *Service) claim(ctx context.Context) (*runs.Run, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var next *runs.Run
	for _, r := range list {
		switch r.State {
		case runs.Running:
			s.log.Debug("tick skipped: run in progress", logx.String("run", r.ID))
			return nil, nil
		case runs.Queued:
			if next == nil || r.DateQueued.Before(next.DateQueued) ||
				(r.DateQueued.Equal(next.DateQueued) && r.ID < next.ID) {
				next = r
			}
		}
	}
	if next == nil {
		return nil, nil
	}

	started := s.now().UTC()
	next.State = runs.Running
	next.DateStarted = &started
	if err := s.repo.Update(ctx, next); err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			s.log.Warn("run changed before start; skipping", logx.String("run", next.ID), logx.Err(err))
			return nil, nil
		}
		return nil, fmt.Errorf("start run %s: %w", next.ID, err)
	}
	return next, nil
}

// RecoverOrphans marks runs left running by a previous process as system-error.
// Only call it when no other process drains the same store.
func (s *Service) RecoverOrphans(ctx context.Context) (int, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	list, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}
	n := 0
	for _, r := range list {
		if r.State != runs.Running {
			continue
		}
		r.State = runs.SystemError
		r.Error = "interrupted: process exited while the run was active"
		if r.DateStarted != nil {
			r.Duration = s.now().Sub(*r.DateStarted)
		}
		if err := s.repo.Update(ctx, r); err != nil {
			return n, fmt.Errorf("recover run %s: %w", r.ID, err)
		}
		s.log.Warn("orphaned run marked system-error", logx.String("run", r.ID))
		s.publish(eventbus.RunFinished, r)
		n++
	}
	return n, nil
}

// Start runs the poll loop until ctx is canceled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	if cfg.RecoverOrphans {
		if n, err := s.RecoverOrphans(ctx); err != nil {
			s.log.Error("orphan recovery failed", logx.Err(err))
		} else if n > 0 {
			s.log.Info("orphan recovery done", logx.Int("recovered", n))
		}
	}

	sup.GoRestart("poll", func(c context.Context) error {
		s.loop(c)
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("poll loop exited unexpectedly")
	},
		rtsup.WithPublishFirstError(true),
	)
	s.log.Info("run engine started", logx.Duration("poll", cfg.PollInterval), logx.String("work_dir", cfg.WorkDir))
}

func (s *Service) loop(ctx context.Context) {
	for {
		// A started run is not bound to the loop's lifetime.
		if _, err := s.Tick(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("tick failed", logx.Err(err))
		}
		t := time.NewTimer(s.config().PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.kick:
			t.Stop()
		case <-t.C:
		}
	}
}

// Stop ends the poll loop and waits for an in-flight run until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	start := time.Now()
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("run engine stop timed out", logx.Err(ctx.Err()))
		return
	}
	s.log.Info("run engine stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) publish(typ string, r *runs.Run) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: eventOf(r)})
}
