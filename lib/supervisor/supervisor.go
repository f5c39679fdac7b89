// Package supervisor adapts plain "run until ctx is cancelled" functions
// into a thejerf/suture supervisor tree, and gives the controller a way to
// retrieve a worker's terminal error the way the original process-based
// design retrieves an exception from a child process.
package supervisor

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/tidalsync/tidalsync/internal/slogutil"
)

// Supervisor owns one suture.Supervisor and a per-worker error slot. It
// never restarts a failed worker — a worker returning a non-nil,
// non-context.Canceled error is meant to be fatal to the whole appliance,
// exactly as the reconciliation loop's propagate-exceptions step requires.
type Supervisor struct {
	sup    *suture.Supervisor
	errChs map[string]chan error
	logger interface {
		Error(msg string, args ...any)
	}
}

// New returns a Supervisor named name, used only for log lines.
func New(name string) *Supervisor {
	return &Supervisor{
		sup:    suture.NewSimple(name),
		errChs: map[string]chan error{},
		logger: slogutil.For("supervisor"),
	}
}

// Add registers a worker function under name. fn must return promptly once
// ctx is cancelled.
func (s *Supervisor) Add(name string, fn func(ctx context.Context) error) {
	ch := make(chan error, 1)
	s.errChs[name] = ch
	s.sup.Add(&service{name: name, fn: fn, errCh: ch})
}

// ServeBackground starts every registered worker and returns immediately.
func (s *Supervisor) ServeBackground(ctx context.Context) {
	s.sup.ServeBackground(ctx)
}

// Stop requests every worker to shut down. It does not wait for them — the
// caller is expected to have cancelled the context passed to
// ServeBackground and to rely on that for actual termination, mirroring the
// original design's terminate-then-join two-step.
func (s *Supervisor) Stop() {
	s.sup.Stop()
}

// PropagateException returns and clears the pending terminal error for the
// named worker, or nil if it hasn't failed. Call this once per tick for
// every long-lived worker (spec.md §4.5/§4.6 step 1).
func (s *Supervisor) PropagateException(name string) error {
	ch, ok := s.errChs[name]
	if !ok {
		return nil
	}
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}

type service struct {
	name  string
	fn    func(ctx context.Context) error
	errCh chan error
}

func (svc *service) Serve(ctx context.Context) error {
	err := svc.fn(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		select {
		case svc.errCh <- err:
		default:
		}
	}
	return suture.ErrDoNotRestart
}

func (svc *service) String() string { return svc.name }
