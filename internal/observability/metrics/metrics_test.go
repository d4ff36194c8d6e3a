package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datastash/internal/eventbus"
	"datastash/internal/notifier"
	"datastash/internal/retention"
	"datastash/internal/runs"
	"datastash/internal/task/engine"
	logx "datastash/pkg/logx"
)

func TestObserve(t *testing.T) {
	m := New()
	at := time.Unix(1700000000, 0)

	m.Observe(eventbus.Event{Type: eventbus.RunQueued, Data: engine.RunEvent{Initiator: runs.Manual}})
	m.Observe(eventbus.Event{Type: eventbus.RunStarted, Data: engine.RunEvent{Initiator: runs.Manual}})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running))

	m.Observe(eventbus.Event{Type: eventbus.RunFinished, Time: at, Data: engine.RunEvent{
		State: runs.Success, Initiator: runs.Manual, Duration: 2 * time.Second, RecordsAdded: 3, RecordsRemoved: 1,
	}})
	m.Observe(eventbus.Event{Type: eventbus.RunFinished, Data: engine.RunEvent{State: runs.Failure, Initiator: runs.Scheduled}})
	m.Observe(eventbus.Event{Type: eventbus.NotifySent, Data: notifier.NotificationEvent{Channel: "telegram"}})
	m.Observe(eventbus.Event{Type: eventbus.NotifyFailed, Data: notifier.NotificationEvent{Channel: "mailto"}})
	m.Observe(eventbus.Event{Type: eventbus.RetentionPruned, Data: retention.PruneEvent{Deleted: []string{"a", "b"}}})
	m.Observe(eventbus.Event{Type: "unrelated"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsQueued.WithLabelValues("manual")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("success", "manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsFinished.WithLabelValues("failure", "scheduled")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsAdded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsRemoved))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.lastSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("telegram", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("mailto", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retentionDeleted))
	assert.Equal(t, 2, testutil.CollectAndCount(m.runDuration))
}

func TestConsume(t *testing.T) {
	m := New()
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Consume(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.RunQueued, Data: engine.RunEvent{Initiator: runs.Scheduled}})
		return testutil.ToFloat64(m.runsQueued.WithLabelValues("scheduled")) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHandlerAuth(t *testing.T) {
	s := NewServer(ServerConfig{}, New(), logx.Nop())
	h := s.handler(ServerConfig{Token: "secret", Path: "stats"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "datastash_run_active")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz?token=wrong", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewServer(ServerConfig{}, New(), logx.Nop())
	s.Reconfigure(ctx, ServerConfig{Enabled: true, Addr: "127.0.0.1:0"})
	defer s.Stop(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, ServerConfig{Enabled: false})
	require.Eventually(t, func() bool { return s.Addr() == "" }, 2*time.Second, 10*time.Millisecond)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
	assert.False(t, isLoopbackAddr("nonsense"))
}
