// Package scheduler arms recipe schedules and calls back on each firing.
//
// The registry only decides when; what happens on a firing (enqueueing a
// scheduled run) is the caller's callback. Each recipe id holds at most one
// armed timer, and re-arming or disarming invalidates firings already in flight.
package scheduler
