package controller

import "github.com/pkg/errors"

// ErrNotStarted is returned by Process when called before Start. Exit
// called before Start is a no-op and returns nil.
var ErrNotStarted = errors.New("controller: process called before start")

// ErrAlreadyExited is returned by Process when called after Exit.
var ErrAlreadyExited = errors.New("controller: process called after exit")

// ErrWorkerFailure wraps a fatal error propagated from a long-lived
// supervised worker (spec.md §7, WorkerFailure kind).
type ErrWorkerFailure struct {
	Worker string
	Cause  error
}

func (e *ErrWorkerFailure) Error() string {
	return "worker " + e.Worker + " failed: " + e.Cause.Error()
}

func (e *ErrWorkerFailure) Unwrap() error { return e.Cause }

// ErrDeleteWorkerFailure wraps a fatal error propagated from a one-shot
// delete worker at reap time (spec.md §7, DeleteWorkerFailure kind). Per
// SPEC_FULL.md §9, this is fatal to Process(), same as ErrWorkerFailure —
// the link back to the originating command is not preserved.
type ErrDeleteWorkerFailure struct {
	Name  string
	Cause error
}

func (e *ErrDeleteWorkerFailure) Error() string {
	return "delete worker for " + e.Name + " failed: " + e.Cause.Error()
}

func (e *ErrDeleteWorkerFailure) Unwrap() error { return e.Cause }
