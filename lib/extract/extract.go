// Package extract implements the archive-extraction collaborator from
// spec.md §6: submit a file for extraction, poll status, and drain the
// names that just finished successfully.
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidalsync/tidalsync/internal/slogutil"
	"github.com/tidalsync/tidalsync/lib/model"
)

// Extractor runs archive extraction jobs on a small worker pool and reports
// their progress and completion, matching spec.md §6's Extractor contract.
type Extractor struct {
	OutDirPath string
	LocalPath  string
	Workers    int

	jobs      chan job
	completed chan string

	mu       sync.Mutex
	statuses map[string]model.ExtractStatus

	log interface {
		Warn(msg string, args ...any)
	}
}

type job struct {
	name     string
	fullPath string
	isDir    bool
}

// New returns an Extractor that writes extracted output under outDirPath.
func New(outDirPath, localPath string, workers int) *Extractor {
	if workers <= 0 {
		workers = 2
	}
	return &Extractor{
		OutDirPath: outDirPath,
		LocalPath:  localPath,
		Workers:    workers,
		jobs:       make(chan job, 64),
		completed:  make(chan string, 64),
		statuses:   map[string]model.ExtractStatus{},
		log:        slogutil.For("extractor"),
	}
}

// Extract submits f for asynchronous extraction. Non-blocking unless the
// internal job queue is full, in which case it applies backpressure — a
// command precondition already checked local_size is present before this is
// called, so a submit never targets a nonexistent file.
func (e *Extractor) Extract(f *model.ModelFile) {
	e.setStatus(f.Name, model.ExtractStatus{Name: f.Name, State: model.ExtractExtracting})
	e.jobs <- job{name: f.Name, fullPath: filepath.Join(e.LocalPath, f.Name), isDir: f.IsDir}
}

// Serve runs the worker pool until ctx is cancelled.
func (e *Extractor) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (e *Extractor) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-e.jobs:
			e.run(j)
		}
	}
}

func (e *Extractor) run(j job) {
	err := extractArchive(j.fullPath, e.OutDirPath, func(progress float64) {
		e.setStatus(j.name, model.ExtractStatus{Name: j.name, State: model.ExtractExtracting, Progress: &progress})
	})
	if err != nil {
		e.log.Warn("extract failed", slogutil.Error(err), "name", j.name)
		e.setStatus(j.name, model.ExtractStatus{Name: j.name, State: model.ExtractFailed})
		return
	}
	e.setStatus(j.name, model.ExtractStatus{Name: j.name, State: model.ExtractDone})
	select {
	case e.completed <- j.name:
	default:
	}
}

func (e *Extractor) setStatus(name string, s model.ExtractStatus) {
	e.mu.Lock()
	e.statuses[name] = s
	e.mu.Unlock()
}

// PopLatestStatuses returns every job's current status, if any job has been
// submitted.
func (e *Extractor) PopLatestStatuses() ([]model.ExtractStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.statuses) == 0 {
		return nil, false
	}
	out := make([]model.ExtractStatus, 0, len(e.statuses))
	for _, s := range e.statuses {
		out = append(out, s)
	}
	return out, true
}

// PopCompleted drains the names that finished extracting successfully since
// the last call.
func (e *Extractor) PopCompleted() []string {
	var names []string
	for {
		select {
		case name := <-e.completed:
			names = append(names, name)
		default:
			return names
		}
	}
}

// extractArchive dispatches to the right archive reader by extension.
// For zip, whose central directory gives the uncompressed total up front,
// progress is the fraction of that total extracted so far (0 to 1). For tar
// and tar.gz, which have no total up front, progress is the number of bytes
// written so far.
func extractArchive(fullPath, outDir string, progress func(float64)) error {
	switch {
	case strings.HasSuffix(fullPath, ".zip"):
		return extractZip(fullPath, outDir, progress)
	case strings.HasSuffix(fullPath, ".tar.gz") || strings.HasSuffix(fullPath, ".tgz"):
		return extractTarGz(fullPath, outDir, progress)
	case strings.HasSuffix(fullPath, ".tar"):
		return extractTar(fullPath, outDir, progress)
	default:
		return fmt.Errorf("extract: unsupported archive type for %q", fullPath)
	}
}

func extractZip(fullPath, outDir string, progress func(float64)) error {
	r, err := zip.OpenReader(fullPath)
	if err != nil {
		return err
	}
	defer r.Close()

	var total, done int64
	for _, f := range r.File {
		total += int64(f.UncompressedSize64)
	}
	for _, f := range r.File {
		if err := extractZipEntry(f, outDir); err != nil {
			return err
		}
		done += int64(f.UncompressedSize64)
		if total > 0 {
			progress(float64(done) / float64(total))
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, outDir string) error {
	target := filepath.Join(outDir, f.Name)
	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

func extractTar(fullPath, outDir string, progress func(float64)) error {
	f, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return extractTarStream(f, outDir, progress)
}

func extractTarGz(fullPath, outDir string, progress func(float64)) error {
	f, err := os.Open(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	return extractTarStream(gz, outDir, progress)
}

func extractTarStream(r io.Reader, outDir string, progress func(float64)) error {
	tr := tar.NewReader(r)
	var done int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(outDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			n, err := io.Copy(dst, tr)
			dst.Close()
			if err != nil {
				return err
			}
			done += n
			// No a-priori total for a streamed tar; report monotonically
			// increasing bytes done scaled into (0, 1) is misleading, so
			// progress here reflects bytes written rather than a ratio.
			progress(float64(done))
		}
	}
}
