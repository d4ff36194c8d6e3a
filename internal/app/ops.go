package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"datastash/internal/recipe"
	"datastash/internal/runs"
	"datastash/internal/snapshot"
	"datastash/internal/storage"
	logx "datastash/pkg/logx"
)

// Status is the recipe overview.
type Status struct {
	Recipe   *recipe.Recipe `json:"recipe,omitempty"`
	Revision string         `json:"revision,omitempty"`
	Stats    runs.Stats     `json:"stats"`
	NextRun  *time.Time     `json:"nextRun,omitempty"`

	// LastFired is the last time the armed schedule fired in this process.
	LastFired *time.Time `json:"lastFired,omitempty"`
}

// Format selects the encoding of run data.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

var ErrUnknownFormat = errors.New("unknown data format")

// Enqueue requests a run. created is false when an identical request was
// already queued; run is then the queued one.
func (a *App) Enqueue(ctx context.Context, initiator runs.Initiator) (run *runs.Run, created bool, err error) {
	return a.engine.Enqueue(ctx, initiator)
}

func (a *App) Status(ctx context.Context) (Status, error) {
	list, err := a.repo.List(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{Stats: runs.Summarize(list)}

	r, rev, err := recipe.Get(ctx, a.store)
	if errors.Is(err, storage.ErrNotFound) {
		return st, nil
	}
	if err != nil {
		return Status{}, err
	}
	st.Recipe, st.Revision = &r, rev

	if strings.TrimSpace(r.Schedule) == "" {
		return st, nil
	}
	for _, e := range a.sched.Entries() {
		if e.ID != recipe.DocID {
			continue
		}
		if !e.Next.IsZero() {
			st.NextRun = &e.Next
		}
		if !e.Prev.IsZero() {
			st.LastFired = &e.Prev
		}
	}
	if st.NextRun == nil {
		// not armed in this process; report what the schedule would do
		next, err := a.sched.Preview(r.Schedule)
		if err != nil {
			a.log.Debug("stored schedule invalid", logx.String("schedule", r.Schedule), logx.Err(err))
			return st, nil
		}
		st.NextRun = &next
	}
	return st, nil
}

// ModifyRecipe replaces the recipe if rev matches the stored revision (empty
// rev creates it) and re-arms the schedule. An invalid schedule is rejected
// before anything is written.
func (a *App) ModifyRecipe(ctx context.Context, r recipe.Recipe, rev string) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	if err := a.checkSchedule(r.Schedule); err != nil {
		return "", err
	}
	newRev, err := recipe.Put(ctx, a.store, r, rev)
	if err != nil {
		return "", err
	}
	a.log.Info("recipe modified", logx.String("name", r.Name), logx.String("rev", newRev))

	a.armMu.Lock()
	defer a.armMu.Unlock()
	if err := a.armLocked(r, newRev); err != nil {
		return newRev, err
	}
	return newRev, nil
}

func (a *App) GetRecipe(ctx context.Context) (recipe.Recipe, string, error) {
	return recipe.Get(ctx, a.store)
}

func (a *App) GetRun(ctx context.Context, id string) (*runs.Run, error) {
	r, err := a.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns runs newest-first.
func (a *App) ListRuns(ctx context.Context) ([]*runs.Run, error) {
	return a.repo.List(ctx)
}

// GetRunExecutionLog returns log lines from offset since and the offset to poll from next.
func (a *App) GetRunExecutionLog(ctx context.Context, id string, since int) ([]runs.LogLine, int, error) {
	r, err := a.GetRun(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	lines, next := runs.ExecutionLog(r, since)
	return lines, next, nil
}

// GetRunData returns the full result the run captured.
func (a *App) GetRunData(ctx context.Context, id string, format Format) ([]byte, error) {
	snap, err := a.runSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return encodeRows(snap.Columns, snap.Rows, format)
}

// GetRunDataAdded returns rows present in the run's result but not in the previous one.
func (a *App) GetRunDataAdded(ctx context.Context, id string, format Format) ([]byte, error) {
	snap, diff, err := a.runDiff(ctx, id)
	if err != nil {
		return nil, err
	}
	return encodeRows(snap.Columns, diff.Added, format)
}

// GetRunDataRemoved returns rows of the previous result that the run no longer has.
func (a *App) GetRunDataRemoved(ctx context.Context, id string, format Format) ([]byte, error) {
	snap, diff, err := a.runDiff(ctx, id)
	if err != nil {
		return nil, err
	}
	return encodeRows(snap.Columns, diff.Removed, format)
}

func (a *App) runSnapshot(ctx context.Context, id string) (snapshot.Snapshot, error) {
	if _, err := a.GetRun(ctx, id); err != nil {
		return snapshot.Snapshot{}, err
	}
	snap, err := snapshot.Load(ctx, a.store, id)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("run %s has no data: %w", id, err)
	}
	return snap, nil
}

func (a *App) runDiff(ctx context.Context, id string) (snapshot.Snapshot, snapshot.Diff, error) {
	snap, err := a.runSnapshot(ctx, id)
	if err != nil {
		return snapshot.Snapshot{}, snapshot.Diff{}, err
	}
	prev, _, err := snapshot.Previous(ctx, a.store, id)
	if err != nil {
		return snapshot.Snapshot{}, snapshot.Diff{}, err
	}
	return snap, snapshot.Compare(snap, prev), nil
}

func encodeRows(columns []string, rows []snapshot.Row, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		if rows == nil {
			rows = []snapshot.Row{}
		}
		return json.Marshal(rows)
	case FormatCSV:
		var buf bytes.Buffer
		if err := snapshot.EncodeCSV(&buf, columns, rows); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
}
