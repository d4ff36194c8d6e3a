package runs

import "datastash/internal/pipeline"

// LogLine is one flattened execution log entry.
type LogLine struct {
	Command int             `json:"command"` // index into Run.Execution
	Stream  pipeline.Stream `json:"stream"`
	Data    []byte          `json:"data"`
}

// ExecutionLog flattens r's execution log and returns the entries from offset since,
// plus the offset to pass next time. A since beyond the end yields no entries.
func ExecutionLog(r *Run, since int) ([]LogLine, int) {
	var all []LogLine
	for i, c := range r.Execution {
		for _, e := range c.Log {
			all = append(all, LogLine{Command: i, Stream: e.Stream, Data: e.Data})
		}
	}
	since = max(since, 0)
	if since >= len(all) {
		return []LogLine{}, len(all)
	}
	return all[since:], len(all)
}
