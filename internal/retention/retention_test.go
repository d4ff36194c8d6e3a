package retention

import (
	"context"
	"testing"
	"time"

	"datastash/internal/eventbus"
	"datastash/internal/runs"
	"datastash/internal/snapshot"
	"datastash/internal/storage"
	logx "datastash/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s storage.Store, states ...runs.State) []string {
	t.Helper()
	ctx := context.Background()
	repo := runs.NewRepository(s)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, len(states))
	for i, st := range states {
		at := base.Add(time.Duration(i) * time.Minute)
		r := &runs.Run{ID: runs.NewID(at), State: st, Initiator: runs.Scheduled, DateQueued: at}
		require.NoError(t, repo.Create(ctx, r))
		if st == runs.Success {
			snap := snapshot.Snapshot{Columns: []string{"k"}, Rows: []snapshot.Row{{"k": r.ID}}}
			require.NoError(t, snapshot.Save(ctx, s, r.ID, snap))
		}
		ids = append(ids, r.ID)
	}
	return ids
}

func TestPruneKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	ids := seed(t, s, runs.Success, runs.Failure, runs.Success, runs.SystemError, runs.Success, runs.Success)

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	n, err := New(s, logx.Nop(), bus).Prune(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := runs.NewRepository(s).List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[5], list[0].ID)
	assert.Equal(t, ids[3], list[2].ID)

	snaps, err := snapshot.IDs(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[5], ids[4]}, snaps)

	rows, err := s.List(ctx, snapshot.DocType+"/"+ids[0])
	require.NoError(t, err)
	assert.Empty(t, rows)

	select {
	case ev := <-ch:
		assert.Equal(t, eventbus.RetentionPruned, ev.Type)
		pe := ev.Data.(PruneEvent)
		assert.Equal(t, []string{ids[0], ids[1], ids[2]}, pe.Deleted)
	default:
		t.Fatal("no prune event")
	}
}

func TestPruneSkipsActiveRuns(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	ids := seed(t, s, runs.Queued, runs.Running, runs.Success, runs.Success)

	n, err := New(s, logx.Nop(), nil).Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := runs.NewRepository(s).List(ctx)
	require.NoError(t, err)
	got := make([]string, 0, len(list))
	for _, r := range list {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{ids[3], ids[1], ids[0]}, got)
}

func TestPruneDisabledAndUnderLimit(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	seed(t, s, runs.Success, runs.Success)
	m := New(s, logx.Nop(), nil)

	n, err := m.Prune(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = m.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := runs.NewRepository(s).List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPruneSweepsOrphanSnapshots(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	ids := seed(t, s, runs.Success, runs.Running, runs.Failure)

	snap := snapshot.Snapshot{Columns: []string{"k"}, Rows: []snapshot.Row{{"k": "x"}}}
	// left by a run that later failed, by a run still running, and by a deleted run
	require.NoError(t, snapshot.Save(ctx, s, ids[2], snap))
	require.NoError(t, snapshot.Save(ctx, s, ids[1], snap))
	require.NoError(t, snapshot.Save(ctx, s, "2023-12-31T00:00:00.000000000Z", snap))

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	n, err := New(s, logx.Nop(), bus).Prune(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n, "no run is over the limit")

	snaps, err := snapshot.IDs(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{ids[1], ids[0]}, snaps)

	ev := <-ch
	assert.Equal(t, 2, ev.Data.(PruneEvent).Swept)
}
