package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "datastash/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

func TestParse(t *testing.T) {
	cases := []struct {
		expr  string
		every time.Duration
		ok    bool
	}{
		{"*/5 * * * *", 0, true},
		{"0 30 2 * * *", 0, true},
		{"@hourly", 0, true},
		{"@every 55m", 0, true},
		{"cron:0 * * * *", 0, true},
		{"55m", 55 * time.Minute, true},
		{"02:30", 2*time.Hour + 30*time.Minute, true},
		{"every:00:50", 50 * time.Minute, true},
		{"", 0, false},
		{"not a schedule", 0, false},
		{"61 * * * *", 0, false},
		{"10:75", 0, false},
		{"-5m", 0, false},
		{"500ms", 0, false},
		{"banana", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			p, err := Parse(tc.expr)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidSchedule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.every, p.Every)
			assert.NotNil(t, p.Schedule)
		})
	}
}

func TestArmRejectsInvalidAndKeepsPrevious(t *testing.T) {
	r := New(Config{}, testLogger())
	require.NoError(t, r.Arm("recipe", "@hourly", func() {}))

	err := r.Arm("recipe", "99 * * * *", func() {})
	require.ErrorIs(t, err, ErrInvalidSchedule)

	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "@hourly", entries[0].Expr)
	assert.False(t, entries[0].Next.IsZero())
}

func TestArmEmptyDisarms(t *testing.T) {
	r := New(Config{}, testLogger())
	require.NoError(t, r.Arm("recipe", "@hourly", func() {}))
	require.NoError(t, r.Arm("recipe", "", func() {}))
	assert.Empty(t, r.Entries())
}

func TestDisarmDropsStaleFiring(t *testing.T) {
	r := New(Config{}, testLogger())
	var calls atomic.Int32
	require.NoError(t, r.Arm("recipe", "@hourly", func() { calls.Add(1) }))

	r.mu.Lock()
	old := r.job("recipe", r.defs["recipe"].gen)
	r.mu.Unlock()

	old.Run()
	assert.Equal(t, int32(1), calls.Load())

	assert.True(t, r.Disarm("recipe"))
	assert.False(t, r.Disarm("recipe"))
	old.Run()
	assert.Equal(t, int32(1), calls.Load())
}

func TestRearmDropsOldSchedule(t *testing.T) {
	r := New(Config{}, testLogger())
	var oldCalls, newCalls atomic.Int32
	require.NoError(t, r.Arm("recipe", "@hourly", func() { oldCalls.Add(1) }))

	r.mu.Lock()
	old := r.job("recipe", r.defs["recipe"].gen)
	r.mu.Unlock()

	require.NoError(t, r.Arm("recipe", "@daily", func() { newCalls.Add(1) }))

	r.mu.Lock()
	cur := r.job("recipe", r.defs["recipe"].gen)
	r.mu.Unlock()

	old.Run()
	cur.Run()
	assert.Equal(t, int32(0), oldCalls.Load())
	assert.Equal(t, int32(1), newCalls.Load())
}

func TestStartFiresArmedSchedule(t *testing.T) {
	r := New(Config{Timezone: "UTC"}, testLogger())
	fired := make(chan struct{}, 4)
	require.NoError(t, r.Arm("recipe", "1s", func() { fired <- struct{}{} }))

	r.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	}()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire")
	}
	entries := r.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Prev.IsZero())
}

func TestApplyTimezoneKeepsSchedules(t *testing.T) {
	r := New(Config{Timezone: "UTC"}, testLogger())
	require.NoError(t, r.Arm("recipe", "0 3 * * *", func() {}))
	r.Start()
	defer r.Stop(context.Background())

	r.Apply(Config{Timezone: "Asia/Tokyo"})
	entries := r.Entries()
	require.Len(t, entries, 1)
	next := entries[0].Next
	require.False(t, next.IsZero())
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, 3, next.In(tokyo).Hour())
}

func TestPreviewDoesNotArm(t *testing.T) {
	r := New(Config{Timezone: "UTC"}, testLogger())
	next, err := r.Preview("0 4 * * *")
	require.NoError(t, err)
	assert.Equal(t, 4, next.UTC().Hour())
	assert.True(t, next.After(time.Now()))
	assert.Empty(t, r.Entries())

	_, err = r.Preview("bogus")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}
