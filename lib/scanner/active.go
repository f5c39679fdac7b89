package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tidalsync/tidalsync/internal/slogutil"
	"github.com/tidalsync/tidalsync/lib/model"
)

// ActiveScanner re-stats just the currently downloading/extracting names on
// a fast interval, so the model gets in-flight size updates without waiting
// for the full local scan's cadence. Its watch list is pushed in by the
// reconciliation loop every tick via SetActiveFiles.
type ActiveScanner struct {
	Root     string
	Interval time.Duration

	mu    sync.Mutex
	names []string

	resultCh chan *Result
	forceCh  chan struct{}
	limiter  *rate.Limiter
	log      interface {
		Warn(msg string, args ...any)
	}
}

// NewActiveScanner returns a scanner rooted at root, sampling its watch
// list every interval (rate-limited so a burst of SetActiveFiles calls
// can't force more than a few scans per second).
func NewActiveScanner(root string, interval time.Duration) *ActiveScanner {
	return &ActiveScanner{
		Root:     root,
		Interval: interval,
		resultCh: make(chan *Result, 1),
		forceCh:  make(chan struct{}, 1),
		limiter:  rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		log:      slogutil.For("active-scanner"),
	}
}

// SetActiveFiles replaces the watch list and, if not rate-limited, triggers
// an immediate out-of-cycle scan so a newly-downloading file gets a fast
// first size update.
func (s *ActiveScanner) SetActiveFiles(names []string) {
	s.mu.Lock()
	s.names = append([]string(nil), names...)
	s.mu.Unlock()
	if s.limiter.Allow() {
		s.ForceScan()
	}
}

// Serve implements the supervisor.Supervisor worker contract.
func (s *ActiveScanner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.scanOnce()
		case <-s.forceCh:
			s.scanOnce()
		}
	}
}

func (s *ActiveScanner) scanOnce() {
	s.mu.Lock()
	names := append([]string(nil), s.names...)
	s.mu.Unlock()

	records := make([]model.FileRecord, 0, len(names))
	for _, name := range names {
		full := filepath.Join(s.Root, name)
		size, isDir, ok := statSize(full)
		if !ok {
			continue
		}
		records = append(records, model.FileRecord{Name: name, FullPath: full, IsDir: isDir, Size: &size})
	}
	pushLatest(s.resultCh, &Result{Timestamp: time.Now(), Files: records})
}

// statSize returns the total size on disk for a file, or the recursive sum
// for a directory that's still being mirrored in.
func statSize(path string) (size int64, isDir bool, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false, false
	}
	if !info.IsDir() {
		return info.Size(), false, true
	}
	var total int64
	_ = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, true, true
}

// PopLatestResult returns the most recent scan, if any is unconsumed.
func (s *ActiveScanner) PopLatestResult() (*Result, bool) { return popLatest(s.resultCh) }

// ForceScan requests an out-of-cycle scan as soon as possible.
func (s *ActiveScanner) ForceScan() { forceScan(s.forceCh) }
