// Package retention bounds how much run history is kept.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"datastash/internal/eventbus"
	"datastash/internal/runs"
	"datastash/internal/snapshot"
	"datastash/internal/storage"
	logx "datastash/pkg/logx"
)

// PruneEvent is published after a prune that deleted something.
type PruneEvent struct {
	Deleted []string `json:"deleted"`
	Retain  int      `json:"retain"`
	Failed  int      `json:"failed"`
	// Swept counts snapshots removed because no successful run owns them.
	Swept int `json:"swept,omitempty"`
}

// Manager deletes the oldest finished runs together with their snapshots.
type Manager struct {
	store storage.Store
	repo  *runs.Repository
	log   logx.Logger
	bus   eventbus.Bus
}

func New(s storage.Store, log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: s, repo: runs.NewRepository(s), log: log, bus: bus}
}

// Prune keeps the newest retain runs and deletes older ones, oldest first.
// Queued and running runs are never deleted. retain <= 0 disables pruning.
// Snapshots left behind by runs that are gone or did not succeed are swept
// in the same pass.
//
// Individual delete failures are logged and joined into the returned error;
// the remaining candidates are still attempted. The count is of deleted runs.
func (m *Manager) Prune(ctx context.Context, retain int) (int, error) {
	if retain <= 0 {
		return 0, nil
	}
	list, err := m.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}

	var (
		deleted []string
		errs    []error
	)
	if len(list) > retain {
		excess := list[retain:]
		for i := len(excess) - 1; i >= 0; i-- {
			r := excess[i]
			if !r.State.Terminal() {
				continue
			}
			if err := m.remove(ctx, r.ID); err != nil {
				m.log.Warn("retention delete failed", logx.String("run", r.ID), logx.Err(err))
				errs = append(errs, err)
				continue
			}
			deleted = append(deleted, r.ID)
		}
	}
	swept, err := m.sweep(ctx, list, deleted)
	if err != nil {
		errs = append(errs, err)
	}

	if len(deleted) > 0 || swept > 0 {
		m.log.Info("retention pruned", logx.Int("deleted", len(deleted)), logx.Int("swept", swept), logx.Int("retain", retain))
		if m.bus != nil {
			m.bus.Publish(eventbus.Event{Type: eventbus.RetentionPruned, Time: time.Now(), Data: PruneEvent{Deleted: deleted, Retain: retain, Failed: len(errs), Swept: swept}})
		}
	}
	return len(deleted), errors.Join(errs...)
}

// sweep deletes snapshots whose run is missing or ended other than in success.
// Snapshots of running runs are kept; the run may still succeed.
func (m *Manager) sweep(ctx context.Context, list []*runs.Run, deleted []string) (int, error) {
	ids, err := snapshot.IDs(ctx, m.store)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	owners := make(map[string]runs.State, len(list))
	for _, r := range list {
		owners[r.ID] = r.State
	}
	for _, id := range deleted {
		delete(owners, id)
	}

	var (
		n    int
		errs []error
	)
	for _, id := range ids {
		if st, ok := owners[id]; ok && (st == runs.Success || st == runs.Running) {
			continue
		}
		if err := snapshot.Delete(ctx, m.store, id); err != nil {
			m.log.Warn("orphan snapshot delete failed", logx.String("run", id), logx.Err(err))
			errs = append(errs, fmt.Errorf("delete snapshot %s: %w", id, err))
			continue
		}
		m.log.Debug("orphan snapshot removed", logx.String("run", id))
		n++
	}
	return n, errors.Join(errs...)
}

// remove drops the snapshot before the run so no data outlives its run record.
func (m *Manager) remove(ctx context.Context, id string) error {
	if err := snapshot.Delete(ctx, m.store, id); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", id, err)
	}
	if err := m.repo.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}
