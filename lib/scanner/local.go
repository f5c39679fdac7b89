package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syncthing/notify"

	"github.com/tidalsync/tidalsync/internal/slogutil"
	"github.com/tidalsync/tidalsync/lib/model"
)

// DefaultTempFileSuffix marks an in-progress lftp download; local scans
// ignore files ending in this suffix so a partial download never reports as
// the file's final size.
const DefaultTempFileSuffix = ".lftp-pget-status"

// LocalScanner walks a local directory tree on an interval, and also wakes
// up early on filesystem change notifications or ForceScan.
type LocalScanner struct {
	Root         string
	Interval     time.Duration
	UseTempFile  bool
	TempSuffix   string

	resultCh chan *Result
	forceCh  chan struct{}
	log      interface {
		Warn(msg string, args ...any)
	}
}

// NewLocalScanner returns a scanner rooted at root, polling every interval.
func NewLocalScanner(root string, interval time.Duration, useTempFile bool) *LocalScanner {
	return &LocalScanner{
		Root:        root,
		Interval:    interval,
		UseTempFile: useTempFile,
		TempSuffix:  DefaultTempFileSuffix,
		resultCh:    make(chan *Result, 1),
		forceCh:     make(chan struct{}, 1),
		log:         slogutil.For("local-scanner"),
	}
}

// Serve implements the supervisor.Supervisor worker contract.
func (s *LocalScanner) Serve(ctx context.Context) error {
	events := make(chan notify.EventInfo, 32)
	if err := notify.Watch(filepath.Join(s.Root, "..."), events, notify.All); err == nil {
		defer notify.Stop(events)
	} else {
		s.log.Warn("filesystem watch unavailable, falling back to polling only", slogutil.Error(err))
	}

	s.scanOnce()
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
		case <-events:
			s.drainEvents(events)
			s.scanOnce()
		}
	}
}

func (s *LocalScanner) drainEvents(events chan notify.EventInfo) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

func (s *LocalScanner) scanOnce() {
	files, err := walkTree(s.Root, s.skip)
	if err != nil {
		s.log.Warn("local scan failed", slogutil.Error(err))
		return
	}
	pushLatest(s.resultCh, &Result{Timestamp: time.Now(), Files: files})
}

func (s *LocalScanner) skip(name string) bool {
	return s.UseTempFile && strings.HasSuffix(name, s.TempSuffix)
}

// PopLatestResult returns the most recent scan, if any is unconsumed.
func (s *LocalScanner) PopLatestResult() (*Result, bool) { return popLatest(s.resultCh) }

// ForceScan requests an out-of-cycle scan as soon as possible.
func (s *LocalScanner) ForceScan() { forceScan(s.forceCh) }

// walkTree walks root and builds the top-level FileRecord tree used by
// ModelBuilder; skip(name) excludes files by base name (e.g. temp suffixes).
func walkTree(root string, skip func(name string) bool) ([]model.FileRecord, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []model.FileRecord
	for _, entry := range entries {
		if skip(entry.Name()) {
			continue
		}
		full := filepath.Join(root, entry.Name())
		rec, err := buildRecord(full, entry, skip)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func buildRecord(full string, entry fs.DirEntry, skip func(name string) bool) (model.FileRecord, error) {
	rec := model.FileRecord{Name: entry.Name(), FullPath: full, IsDir: entry.IsDir()}
	if entry.IsDir() {
		children, err := walkTree(full, skip)
		if err != nil {
			return rec, err
		}
		rec.Children = children
		return rec, nil
	}
	info, err := entry.Info()
	if err != nil {
		return rec, err
	}
	size := info.Size()
	rec.Size = &size
	return rec, nil
}
