package scheduler

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "datastash/pkg/logx"
)

// Config controls the registry.
type Config struct {
	Timezone string // IANA TZ for cron expressions; empty means Local
}

// Entry describes one armed schedule.
type Entry struct {
	ID   string
	Expr string
	Next time.Time
	Prev time.Time
}

type armed struct {
	id      string
	p       Parsed
	cb      func()
	gen     uint64
	entryID cron.EntryID
}

// Registry owns the process's schedule timers.
type Registry struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	c   *cron.Cron

	defs map[string]*armed
	gen  uint64
}

func New(cfg Config, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{log: log, cfg: cfg, defs: map[string]*armed{}}
	r.loc = r.loadLocationLocked()
	return r
}

// Apply swaps the config; a timezone change restarts cron with every schedule re-added.
func (r *Registry) Apply(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oldTZ := strings.TrimSpace(r.cfg.Timezone)
	r.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	r.loc = r.loadLocationLocked()
	if r.c == nil {
		return
	}
	<-r.c.Stop().Done()
	r.startLocked()
	r.log.Info("scheduler restarted", logx.String("tz", r.loc.String()), logx.Int("schedules", len(r.defs)))
}

// Start begins firing. Schedules armed before Start are registered now.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.startLocked()
	r.log.Info("scheduler started", logx.String("tz", r.loc.String()), logx.Int("schedules", len(r.defs)))
}

func (r *Registry) startLocked() {
	r.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(r.loc))
	for _, d := range r.defs {
		r.addLocked(d)
	}
	r.c.Start()
}

// Stop halts firing and waits for running callbacks until ctx is done.
// Armed definitions are kept so a later Start resumes them.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	for _, d := range r.defs {
		d.entryID = 0
	}
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("scheduler stopped")
}

// Validate reports whether expr would arm; errors wrap ErrInvalidSchedule.
func (r *Registry) Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Arm replaces any schedule held for id with expr, calling cb on each firing.
// An empty expr only disarms. An invalid expr leaves the previous schedule untouched.
func (r *Registry) Arm(id, expr string, cb func()) error {
	if strings.TrimSpace(expr) == "" {
		r.Disarm(id)
		return nil
	}
	p, err := Parse(expr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
	r.gen++
	d := &armed{id: id, p: p, cb: cb, gen: r.gen}
	r.defs[id] = d
	if r.c != nil {
		r.addLocked(d)
	}
	r.log.Info("schedule armed", logx.String("id", id), logx.String("expr", p.Expr), logx.String("next", r.nextLocked(d).Format(time.RFC3339)))
	return nil
}

// Disarm cancels the schedule for id; firings already dispatched are dropped.
func (r *Registry) Disarm(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.removeLocked(id) {
		return false
	}
	r.log.Info("schedule disarmed", logx.String("id", id))
	return true
}

func (r *Registry) removeLocked(id string) bool {
	d, ok := r.defs[id]
	if !ok {
		return false
	}
	if r.c != nil && d.entryID != 0 {
		r.c.Remove(d.entryID)
	}
	delete(r.defs, id)
	return true
}

func (r *Registry) addLocked(d *armed) {
	d.entryID = r.c.Schedule(d.p.Schedule, r.job(d.id, d.gen))
}

// job is what cron runs; it drops the firing if id was re-armed or disarmed since.
func (r *Registry) job(id string, gen uint64) cron.Job {
	return cron.FuncJob(func() {
		r.mu.Lock()
		d, ok := r.defs[id]
		if !ok || d.gen != gen {
			r.mu.Unlock()
			r.log.Debug("stale firing dropped", logx.String("id", id))
			return
		}
		cb := d.cb
		r.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

// Entries lists armed schedules by id.
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.defs))
	for _, d := range r.defs {
		e := Entry{ID: d.id, Expr: d.p.Expr, Next: r.nextLocked(d)}
		if r.c != nil && d.entryID != 0 {
			e.Prev = r.c.Entry(d.entryID).Prev
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Preview returns the next time expr would fire from now in the registry's timezone, without arming it.
func (r *Registry) Preview(expr string) (time.Time, error) {
	p, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	r.mu.Lock()
	loc := r.loc
	r.mu.Unlock()
	return p.Schedule.Next(time.Now().In(loc)), nil
}

func (r *Registry) nextLocked(d *armed) time.Time {
	if r.c != nil && d.entryID != 0 {
		if next := r.c.Entry(d.entryID).Next; !next.IsZero() {
			return next
		}
	}
	return d.p.Schedule.Next(time.Now().In(r.loc))
}

func (r *Registry) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(r.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
