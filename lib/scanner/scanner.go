// Package scanner implements the three directory scanners described in
// spec.md §6: a local filesystem walker, a remote SFTP walker, and an
// "active" scanner that re-stats just the currently downloading/extracting
// names for fast in-flight feedback.
package scanner

import (
	"time"

	"github.com/tidalsync/tidalsync/lib/model"
)

// Result is one scanner's latest observation, with the time it was taken.
type Result struct {
	Timestamp time.Time
	Files     []model.FileRecord
}

// Scanner is the common collaborator contract: pop the latest result
// without blocking, and optionally hint that a scan should happen sooner
// than the next scheduled interval.
type Scanner interface {
	PopLatestResult() (*Result, bool)
	ForceScan()
}

// ActiveScannerControl is the extra capability of the active scanner: its
// watch list is driven by the reconciliation loop each tick, from the union
// of currently-downloading and currently-extracting names.
type ActiveScannerControl interface {
	SetActiveFiles(names []string)
}

// pushLatest replaces any unconsumed previous result with r, so
// PopLatestResult always returns the most recent scan rather than queueing
// up stale ones.
func pushLatest(ch chan *Result, r *Result) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- r:
	default:
	}
}

func popLatest(ch chan *Result) (*Result, bool) {
	select {
	case r := <-ch:
		return r, true
	default:
		return nil, false
	}
}

func forceScan(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
