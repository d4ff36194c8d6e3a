package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned for expressions that neither cron nor the
// interval forms accept.
var ErrInvalidSchedule = errors.New("invalid schedule")

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// Parsed is a normalized schedule expression.
type Parsed struct {
	Expr     string        // as given, trimmed
	Every    time.Duration // set for interval forms
	Schedule cron.Schedule
}

// Parse accepts:
//   - cron: "*/5 * * * *", "0 30 2 * * *", "@hourly", "@every 55m"
//   - interval duration: "55m", "2h30m"
//   - interval HH:MM: "02:30" (every 2h30m)
//
// A "cron:" prefix forces cron parsing; "every:" forces an interval.
func Parse(raw string) (Parsed, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Parsed{}, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(s, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s, strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s, s)
	default:
		return parseInterval(s, s)
	}
}

func parseCron(expr, spec string) (Parsed, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}
	return Parsed{Expr: expr, Schedule: sched}, nil
}

func parseInterval(expr, v string) (Parsed, error) {
	d, err := intervalOf(v)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}
	return Parsed{Expr: expr, Every: d, Schedule: cron.Every(d)}, nil
}

func intervalOf(v string) (time.Duration, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("minutes out of range")
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, errors.New("use cron like '*/5 * * * *', HH:MM like '02:30', or a duration like '55m'")
		}
	}
	// cron.Every rounds below a second up to one second.
	if d < time.Second {
		return 0, fmt.Errorf("interval must be at least 1s")
	}
	return d, nil
}
