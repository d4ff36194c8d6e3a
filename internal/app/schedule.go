package app

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"datastash/internal/recipe"
	"datastash/internal/runs"
	"datastash/internal/storage"
	logx "datastash/pkg/logx"
)

// recipeSyncInterval bounds how long a recipe modified by another process
// (e.g. the CLI) runs on its old schedule.
const recipeSyncInterval = 10 * time.Second

// checkSchedule fails fast on an expression the scheduler would not arm.
func (a *App) checkSchedule(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	return a.sched.Validate(expr)
}

// syncSchedule re-arms the timer when the stored recipe revision differs from
// the armed one, and disarms it when no recipe is stored.
func (a *App) syncSchedule(ctx context.Context) error {
	r, rev, err := recipe.Get(ctx, a.store)
	if errors.Is(err, storage.ErrNotFound) {
		a.armMu.Lock()
		a.sched.Disarm(recipe.DocID)
		a.armedRev = ""
		a.armMu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	a.armMu.Lock()
	defer a.armMu.Unlock()
	if rev == a.armedRev {
		return nil
	}
	return a.armLocked(r, rev)
}

// armLocked arms r's schedule. On an invalid schedule the previous timer is
// kept, but rev is still recorded so the same revision is not retried. Call
// with armMu held.
func (a *App) armLocked(r recipe.Recipe, rev string) error {
	a.armedRev = rev
	if err := a.sched.Arm(recipe.DocID, r.Schedule, a.onScheduleFire); err != nil {
		return err
	}
	a.log.Debug("schedule synced", logx.String("rev", rev), logx.String("schedule", r.Schedule))
	return nil
}

func (a *App) onScheduleFire() {
	ctx := context.Background()
	if a.sup != nil {
		ctx = a.sup.Context()
	}
	run, created, err := a.engine.Enqueue(ctx, runs.Scheduled)
	if err != nil {
		a.log.Error("scheduled enqueue failed", logx.Err(err))
		return
	}
	if !created {
		a.log.Debug("scheduled run already queued", logx.String("run", run.ID))
	}
}

// loadRecipeFile stores the recipe from path when it differs from the stored
// one and re-arms the schedule. The file is authoritative over the stored revision.
func (a *App) loadRecipeFile(ctx context.Context, path string) error {
	r, err := recipe.LoadFile(path)
	if err != nil {
		return err
	}
	if err := a.checkSchedule(r.Schedule); err != nil {
		return err
	}

	cur, rev, err := recipe.Get(ctx, a.store)
	switch {
	case err == nil && reflect.DeepEqual(cur, r):
		a.log.Debug("recipe file unchanged", logx.String("path", path))
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return err
	default:
		if rev, err = recipe.Replace(ctx, a.store, r); err != nil {
			return err
		}
		a.log.Info("recipe loaded", logx.String("path", path), logx.String("name", r.Name), logx.String("rev", rev))
	}

	a.armMu.Lock()
	defer a.armMu.Unlock()
	if rev == a.armedRev {
		return nil
	}
	return a.armLocked(r, rev)
}
