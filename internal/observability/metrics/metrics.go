// Package metrics exports run and delivery counters to Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"datastash/internal/eventbus"
	"datastash/internal/notifier"
	"datastash/internal/retention"
	"datastash/internal/runs"
	"datastash/internal/task/engine"
)

const namespace = "datastash"

// Metrics holds the collectors, fed from bus events.
type Metrics struct {
	reg *prometheus.Registry

	runsQueued       *prometheus.CounterVec
	runsFinished     *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	running          prometheus.Gauge
	recordsAdded     prometheus.Counter
	recordsRemoved   prometheus.Counter
	lastSuccess      prometheus.Gauge
	notifications    *prometheus.CounterVec
	retentionDeleted prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		runsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_queued_total",
			Help: "Runs created by enqueue.",
		}, []string{"initiator"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_finished_total",
			Help: "Runs that reached a terminal state.",
		}, []string{"state", "initiator"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "run_duration_seconds",
			Help:    "Wall time from start to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"state"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "run_active",
			Help: "1 while a run is executing.",
		}),
		recordsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_added_total",
			Help: "Rows added across successful runs.",
		}),
		recordsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_removed_total",
			Help: "Rows removed across successful runs.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		retentionDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retention_deleted_runs_total",
			Help: "Runs deleted by retention.",
		}),
	}
	m.reg.MustRegister(
		m.runsQueued, m.runsFinished, m.runDuration, m.running,
		m.recordsAdded, m.recordsRemoved, m.lastSuccess,
		m.notifications, m.retentionDeleted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Observe updates collectors for one event. Unknown events are ignored.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.RunQueued:
		if re, ok := ev.Data.(engine.RunEvent); ok {
			m.runsQueued.WithLabelValues(string(re.Initiator)).Inc()
		}
	case eventbus.RunStarted:
		m.running.Set(1)
	case eventbus.RunFinished:
		re, ok := ev.Data.(engine.RunEvent)
		if !ok {
			return
		}
		m.running.Set(0)
		m.runsFinished.WithLabelValues(string(re.State), string(re.Initiator)).Inc()
		m.runDuration.WithLabelValues(string(re.State)).Observe(re.Duration.Seconds())
		if re.State == runs.Success {
			m.recordsAdded.Add(float64(re.RecordsAdded))
			m.recordsRemoved.Add(float64(re.RecordsRemoved))
			m.lastSuccess.Set(float64(ev.Time.Unix()))
		}
	case eventbus.NotifySent, eventbus.NotifyFailed:
		ne, ok := ev.Data.(notifier.NotificationEvent)
		if !ok {
			return
		}
		outcome := "sent"
		if ev.Type == eventbus.NotifyFailed {
			outcome = "failed"
		}
		m.notifications.WithLabelValues(ne.Channel, outcome).Inc()
	case eventbus.RetentionPruned:
		if pe, ok := ev.Data.(retention.PruneEvent); ok {
			m.retentionDeleted.Add(float64(len(pe.Deleted)))
		}
	}
}

// Consume observes bus events until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}
