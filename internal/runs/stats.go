package runs

import (
	"math"
	"time"
)

// Stats aggregates run history for status reporting.
type Stats struct {
	NumberRuns            int           `json:"numberRuns"`
	NumberRunsSuccessful  int           `json:"numberRunsSuccessful"`
	SuccessRate           float64       `json:"successRate"` // percent, one decimal
	AverageRunTime        time.Duration `json:"averageRunTime"`
	DateLastSuccessfulRun *time.Time    `json:"dateLastSuccessfulRun"`
	Queued                int           `json:"queued"`
	Running               int           `json:"running"`
}

// Summarize computes Stats over runs given newest-first.
// Only terminal runs count towards NumberRuns, SuccessRate and AverageRunTime.
func Summarize(list []*Run) Stats {
	var (
		st    Stats
		total time.Duration
	)
	for _, r := range list {
		switch r.State {
		case Queued:
			st.Queued++
			continue
		case Running:
			st.Running++
			continue
		}
		st.NumberRuns++
		total += r.Duration
		if r.State != Success {
			continue
		}
		st.NumberRunsSuccessful++
		if st.DateLastSuccessfulRun == nil && r.DateStarted != nil {
			done := r.DateStarted.Add(r.Duration)
			st.DateLastSuccessfulRun = &done
		}
	}
	if st.NumberRuns > 0 {
		rate := float64(st.NumberRunsSuccessful) / float64(st.NumberRuns) * 100
		st.SuccessRate = math.Round(rate*10) / 10
		st.AverageRunTime = (total / time.Duration(st.NumberRuns)).Round(time.Millisecond)
	}
	return st
}
