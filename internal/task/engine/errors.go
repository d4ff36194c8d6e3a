package engine

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid initiator")
	// ErrPanic marks a run whose orchestration panicked.
	ErrPanic = errors.New("run panicked")
	// ErrPersist marks a run whose terminal state could not be written.
	ErrPersist = errors.New("persist run state")
)
