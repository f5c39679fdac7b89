// Package transfer defines the transfer engine contract (spec.md §6) and a
// concrete adapter around the external `lftp` command-line tool.
package transfer

import "time"

// Engine is the transfer engine collaborator: it queues, runs, and reports
// on remote-to-local transfer jobs. All methods may return *Error.
type Engine interface {
	Queue(name string, isDir bool) error
	Kill(name string) error
	Status() ([]Status, error)
	Exit() error
	RaisePendingError() error
}

// JobState mirrors the transfer engine's notion of job progress.
type JobState int

const (
	JobQueued JobState = iota
	JobRunning
)

// Status is one entry of Engine.Status()'s report.
type Status struct {
	Name  string
	State JobState
	Speed *int64
	ETA   *time.Duration
}

// Error is the TransferEngineError kind from spec.md §7: every Engine
// failure carries a human-readable message and is safe to show in a command
// failure callback.
type Error struct {
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Op + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }
