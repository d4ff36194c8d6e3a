// Package runs holds run records, their repository and aggregate statistics.
package runs

import (
	"time"

	"datastash/internal/notifier"
	"datastash/internal/pipeline"
)

type State string

const (
	Queued      State = "queued"
	Running     State = "running"
	Success     State = "success"
	Failure     State = "failure"
	SystemError State = "system-error"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == Success || s == Failure || s == SystemError
}

type Initiator string

const (
	Manual    Initiator = "manual"
	Scheduled Initiator = "scheduled"
)

func (i Initiator) Valid() bool { return i == Manual || i == Scheduled }

// IDLayout is a fixed-width UTC timestamp, so lexical order is chronological.
const IDLayout = "2006-01-02T15:04:05.000000000Z"

// NewID derives a run id from the enqueue time.
func NewID(t time.Time) string { return t.UTC().Format(IDLayout) }

// Run is one execution attempt.
type Run struct {
	ID          string                   `json:"id"`
	State       State                    `json:"state"`
	Initiator   Initiator                `json:"initiator"`
	DateQueued  time.Time                `json:"dateQueued"`
	DateStarted *time.Time               `json:"dateStarted,omitempty"`
	Duration    time.Duration            `json:"duration,omitempty"`
	Execution   []pipeline.CommandResult `json:"execution,omitempty"`

	RecordsAdded   int                `json:"recordsAdded"`
	RecordsRemoved int                `json:"recordsRemoved"`
	Triggered      []notifier.Outcome `json:"triggered,omitempty"`

	// Error is the system-error detail.
	Error string `json:"error,omitempty"`

	// Rev is the store revision this value was read at.
	Rev string `json:"-"`
}
