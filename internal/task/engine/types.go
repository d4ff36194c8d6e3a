package engine

import (
	"context"
	"time"

	"datastash/internal/pipeline"
	"datastash/internal/runs"
)

// Config controls the run engine.
type Config struct {
	// WorkDir is the recipe's working directory; commands run there and the
	// result path is resolved against it.
	WorkDir string
	// PollInterval is how often the loop looks for queued work (default 10s).
	PollInterval time.Duration
	// RetainRuns bounds stored runs after each run; 0 means 10, negative disables pruning.
	RetainRuns int
	// RecoverOrphans marks runs left running by a previous process as system-error on Start.
	RecoverOrphans bool
}

// Executor runs an ordered command list; *pipeline.Runner implements it.
type Executor interface {
	Execute(ctx context.Context, dir string, commands []string) pipeline.Result
}

// Pruner bounds run history; *retention.Manager implements it.
type Pruner interface {
	Prune(ctx context.Context, retain int) (int, error)
}

// RunEvent is the payload of run.* bus events.
type RunEvent struct {
	ID             string         `json:"id"`
	State          runs.State     `json:"state"`
	Initiator      runs.Initiator `json:"initiator"`
	Duration       time.Duration  `json:"duration,omitempty"`
	RecordsAdded   int            `json:"recordsAdded,omitempty"`
	RecordsRemoved int            `json:"recordsRemoved,omitempty"`
}

func eventOf(r *runs.Run) RunEvent {
	return RunEvent{
		ID:             r.ID,
		State:          r.State,
		Initiator:      r.Initiator,
		Duration:       r.Duration,
		RecordsAdded:   r.RecordsAdded,
		RecordsRemoved: r.RecordsRemoved,
	}
}
