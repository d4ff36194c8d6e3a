package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"datastash/internal/eventbus"
	"datastash/internal/notifier"
	"datastash/internal/recipe"
	"datastash/internal/runs"
	"datastash/internal/snapshot"
	"datastash/internal/storage"
	logx "datastash/pkg/logx"
)

// persistAttempts bounds writes of a run's terminal state.
const persistAttempts = 3

// execute drives a running run to a terminal state and persists it.
// The terminal state is written only after notification attempts complete.
func (s *Service) execute(ctx context.Context, run *runs.Run) error {
	cfg := s.config()
	log := s.log.With(logx.String("run", run.ID))
	log.Info("run.started", logx.String("initiator", string(run.Initiator)))
	s.publish(eventbus.RunStarted, run)

	err := s.process(ctx, cfg, run)
	if err == nil && !run.State.Terminal() {
		err = fmt.Errorf("run ended in state %q", run.State)
	}
	if run.DateStarted != nil {
		run.Duration = s.now().Sub(*run.DateStarted)
	}
	if err != nil {
		log.Error("run system error", logx.Err(err))
		s.fail(ctx, log, run, err.Error())
	}

	if err := s.finish(ctx, log, run); err != nil {
		return err
	}
	log.Info("run.finished",
		logx.String("state", string(run.State)),
		logx.Duration("took", run.Duration),
		logx.Int("added", run.RecordsAdded),
		logx.Int("removed", run.RecordsRemoved),
	)
	s.publish(eventbus.RunFinished, run)

	if run.State == runs.Success && cfg.RetainRuns > 0 {
		if _, err := s.pruner.Prune(ctx, cfg.RetainRuns); err != nil {
			log.Warn("retention incomplete", logx.Err(err))
		}
	}
	return nil
}

// fail turns run into a system-error. Only successful runs keep a snapshot;
// it is what later runs diff against.
func (s *Service) fail(ctx context.Context, log logx.Logger, run *runs.Run, detail string) {
	run.State = runs.SystemError
	run.Error = detail
	if err := snapshot.Delete(ctx, s.store, run.ID); err != nil {
		log.Warn("discard snapshot failed", logx.Err(err))
	}
}

// finish writes the terminal state. If that keeps failing the run is
// downgraded to system-error; if even that cannot be written, the run is
// held and written by the next Tick before anything else is claimed.
func (s *Service) finish(ctx context.Context, log logx.Logger, run *runs.Run) error {
	err := s.persist(ctx, run)
	if err == nil {
		return nil
	}
	log.Error("persist run state failed", logx.String("state", string(run.State)), logx.Err(err))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: run %s was deleted: %w", ErrPersist, run.ID, err)
	}
	if run.State != runs.SystemError {
		s.fail(ctx, log, run, fmt.Sprintf("%v: %v", ErrPersist, err))
		perr := s.persist(ctx, run)
		if perr == nil {
			s.publish(eventbus.RunFinished, run)
			return fmt.Errorf("%w: run %s: %w", ErrPersist, run.ID, err)
		}
		err = perr
	}
	s.unsaved = run
	return fmt.Errorf("%w: run %s held for retry: %w", ErrPersist, run.ID, err)
}

// persist updates run, re-reading the revision on conflict, with backoff
// between attempts.
func (s *Service) persist(ctx context.Context, run *runs.Run) error {
	wait := s.persistBackoff
	for attempt := 1; ; attempt++ {
		err := s.repo.Update(ctx, run)
		if err == nil || errors.Is(err, storage.ErrNotFound) || attempt == persistAttempts {
			return err
		}
		if errors.Is(err, storage.ErrConflict) {
			if cur, gerr := s.repo.Get(ctx, run.ID); gerr == nil {
				run.Rev = cur.Rev
			}
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		wait *= 2
	}
}

// flushUnsaved writes a run held by finish. Call with tickMu held.
func (s *Service) flushUnsaved(ctx context.Context) error {
	run := s.unsaved
	if run == nil {
		return nil
	}
	err := s.persist(ctx, run)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.log.Warn("held run was deleted", logx.String("run", run.ID))
	case err != nil:
		return fmt.Errorf("%w: run %s: %w", ErrPersist, run.ID, err)
	default:
		s.log.Info("held run written", logx.String("run", run.ID), logx.String("state", string(run.State)))
		s.publish(eventbus.RunFinished, run)
	}
	s.unsaved = nil
	return nil
}

// process returns an error for anything that is not a command failure.
func (s *Service) process(ctx context.Context, cfg Config, run *runs.Run) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("run.panic", logx.String("run", run.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	rc, _, err := recipe.Get(ctx, s.store)
	if err != nil {
		return fmt.Errorf("load recipe: %w", err)
	}

	res := s.exec.Execute(ctx, cfg.WorkDir, rc.Run)
	run.Execution = res
	if res.Failed() {
		run.State = runs.Failure
		return nil
	}

	snap, err := snapshot.ReadFile(resultPath(cfg.WorkDir, rc.Result))
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	prev, prevID, err := snapshot.Previous(ctx, s.store, run.ID)
	if err != nil {
		return fmt.Errorf("load previous snapshot: %w", err)
	}
	if err := snapshot.Save(ctx, s.store, run.ID, snap); err != nil {
		return err
	}

	diff := snapshot.Compare(snap, prev)
	run.RecordsAdded = len(diff.Added)
	run.RecordsRemoved = len(diff.Removed)
	s.log.Debug("snapshot compared",
		logx.String("run", run.ID),
		logx.String("previous", prevID),
		logx.Int("rows", len(snap.Rows)),
	)

	run.Triggered = s.notify(ctx, run.ID, rc, diff)
	run.State = runs.Success
	return nil
}

// notify delivers to every trigger whose condition holds. Delivery failures
// are recorded in the outcomes and never fail the run.
func (s *Service) notify(ctx context.Context, runID string, rc recipe.Recipe, diff snapshot.Diff) []notifier.Outcome {
	if s.notifier == nil {
		return nil
	}
	var (
		out           []notifier.Outcome
		subject, body string
		rendered      bool
	)
	for _, t := range rc.Triggers {
		cond := t.Condition.OrDefault()
		if !cond.Met(diff) {
			continue
		}
		if !rendered {
			subject, body = notifier.Render(rc.Name, diff)
			rendered = true
		}
		d, err := s.notifier.Notify(ctx, t.Recipient, subject, body)
		o := notifier.Outcome{
			Recipient: t.Recipient,
			Condition: string(cond),
			OK:        err == nil,
			Channel:   d.Channel,
			At:        s.now().UTC(),
		}
		if err != nil {
			o.Error = err.Error()
			if o.Channel == "" {
				o.Channel, _ = notifier.ParseRecipient(t.Recipient)
			}
			s.log.Warn("notification failed", logx.String("run", runID), logx.String("recipient", t.Recipient), logx.Err(err))
		}
		out = append(out, o)
	}
	return out
}

func resultPath(dir, result string) string {
	if filepath.IsAbs(result) {
		return result
	}
	return filepath.Join(dir, result)
}
