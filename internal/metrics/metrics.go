// Package metrics records operational metrics of task runs.
//
// Components depend only on Recorder. The Prometheus implementation lives in
// the prom subpackage; Nop is used when no backend is configured.
package metrics

import "time"

// Status labels.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Recorder receives measurements from the runner and the sinks.
type Recorder interface {
	// RecordStep observes one step execution.
	RecordStep(task, kind string, err error, d time.Duration)
	// RecordRun observes one complete task run.
	RecordRun(task string, err error, d time.Duration)
	// RecordRows counts rows by kind, e.g. "extracted" or "written".
	RecordRows(kind string, n int)
	// Flush pushes pending metrics if the backend needs it.
	Flush() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordStep(string, string, error, time.Duration) {}
func (Nop) RecordRun(string, error, time.Duration)          {}
func (Nop) RecordRows(string, int)                          {}
func (Nop) Flush() error                                    { return nil }

// Status maps an error onto a status label.
func Status(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
