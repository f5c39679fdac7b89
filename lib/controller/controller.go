// Package controller implements the reconciliation core described by
// SPEC_FULL.md §4: it merges scanner/transfer/extractor observations into a
// single Model, dispatches client commands against that Model, and
// supervises the long-lived workers and one-shot delete workers that back
// it all.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tidalsync/tidalsync/internal/slogutil"
	"github.com/tidalsync/tidalsync/lib/metrics"
	"github.com/tidalsync/tidalsync/lib/model"
	"github.com/tidalsync/tidalsync/lib/persist"
	"github.com/tidalsync/tidalsync/lib/scanner"
	"github.com/tidalsync/tidalsync/lib/supervisor"
	"github.com/tidalsync/tidalsync/lib/transfer"
)

// ScannerSource is what the controller needs from any of the three
// scanners: its latest result, non-blocking, and a way to ask it to scan
// sooner than its next scheduled interval.
type ScannerSource interface {
	PopLatestResult() (*scanner.Result, bool)
	ForceScan()
}

// ActiveScannerSource additionally accepts the watch list the
// reconciliation loop recomputes every tick.
type ActiveScannerSource interface {
	ScannerSource
	SetActiveFiles(names []string)
}

// ExtractorSource is what the controller needs from the extractor.
type ExtractorSource interface {
	Extract(f *model.ModelFile)
	PopLatestStatuses() ([]model.ExtractStatus, bool)
	PopCompleted() []string
}

// DeleteWorker is what the controller needs from a one-shot delete process.
type DeleteWorker interface {
	Start()
	IsAlive() bool
	PropagateException() error
}

// ServeFunc is a supervised worker's run loop: block until ctx is
// cancelled, then return promptly.
type ServeFunc func(ctx context.Context) error

// Config wires all of the Controller's collaborators together. Workers maps
// a name to its supervised run loop; tests commonly leave it empty and
// drive the ScannerSource/ExtractorSource interfaces directly without ever
// calling Start's supervision path.
type Config struct {
	LocalScanner   ScannerSource
	RemoteScanner  ScannerSource
	ActiveScanner  ActiveScannerSource
	Extractor      ExtractorSource
	TransferEngine transfer.Engine
	Persist        *persist.Store
	LocalRoot      string

	Workers map[string]ServeFunc

	NewLocalDeleteWorker  func(name string) DeleteWorker
	NewRemoteDeleteWorker func(name string) DeleteWorker

	// FreeSpace reports free bytes at path. If nil, the disk guard
	// precondition (SPEC_FULL.md §4.4) is skipped entirely.
	FreeSpace func(path string) (uint64, error)

	Logger *slog.Logger
}

type commandProcessWrapper struct {
	name         string
	worker       DeleteWorker
	postCallback func()
}

// Controller is the reconciliation core: it exclusively owns the Model,
// Persist, the command queue, the active one-shot workers, and the
// supervisor for the long-lived workers.
type Controller struct {
	logger *slog.Logger

	model   *model.Model
	modelMu sync.Mutex
	builder *model.Builder
	persist *persist.Store

	commandQueue chan *Command

	sup     *supervisor.Supervisor
	workers map[string]ServeFunc
	cancel  context.CancelFunc

	localScanner   ScannerSource
	remoteScanner  ScannerSource
	activeScanner  ActiveScannerSource
	extractor      ExtractorSource
	transferEngine transfer.Engine

	newLocalDeleteWorker  func(name string) DeleteWorker
	newRemoteDeleteWorker func(name string) DeleteWorker

	activeCommandProcesses []*commandProcessWrapper

	localRoot string
	freeSpace func(path string) (uint64, error)

	started bool
	exited  bool
}

// New constructs a Controller. Call Start before the first Process.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slogutil.For("controller")
	}
	return &Controller{
		logger:                logger,
		model:                 model.New(),
		builder:               model.NewBuilder(),
		persist:               cfg.Persist,
		commandQueue:          make(chan *Command, 256),
		sup:                   supervisor.New("tidalsync"),
		workers:               cfg.Workers,
		localScanner:          cfg.LocalScanner,
		remoteScanner:         cfg.RemoteScanner,
		activeScanner:         cfg.ActiveScanner,
		extractor:             cfg.Extractor,
		transferEngine:        cfg.TransferEngine,
		newLocalDeleteWorker:  cfg.NewLocalDeleteWorker,
		newRemoteDeleteWorker: cfg.NewRemoteDeleteWorker,
		localRoot:             cfg.LocalRoot,
		freeSpace:             cfg.FreeSpace,
	}
}

// Start launches every supervised worker. Must be called before Process.
func (c *Controller) Start() error {
	if c.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for name, fn := range c.workers {
		c.sup.Add(name, fn)
	}
	c.sup.ServeBackground(ctx)
	c.started = true
	c.logger.Info("controller started")
	return nil
}

// Exit requests the transfer engine to shut down gracefully, then stops
// every supervised worker. It does not wait for one-shot delete workers —
// those are expected to finish on their own.
func (c *Controller) Exit() error {
	if !c.started || c.exited {
		return nil
	}
	var result *multierror.Error
	if err := c.transferEngine.Exit(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.sup.Stop()
	c.exited = true
	c.logger.Info("controller exited")
	return result.ErrorOrNil()
}

// GetModelFiles returns a deep-copied, name-sorted snapshot of every file
// currently in the model.
func (c *Controller) GetModelFiles() []*model.ModelFile {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() []*model.ModelFile {
	names := c.model.GetFileNames()
	sort.Strings(names)
	files := make([]*model.ModelFile, 0, len(names))
	for _, name := range names {
		f, err := c.model.GetFile(name)
		if err != nil {
			continue
		}
		files = append(files, f.Clone())
	}
	return files
}

// AddModelListener registers l under the model lock.
func (c *Controller) AddModelListener(l model.Listener) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model.AddListener(l)
}

// RemoveModelListener unregisters l under the model lock.
func (c *Controller) RemoveModelListener(l model.Listener) {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model.RemoveListener(l)
}

// SubscribeAndSnapshot atomically registers l and returns the current
// snapshot, so the caller can never miss or duplicate an event (spec.md
// §4.1, P4).
func (c *Controller) SubscribeAndSnapshot(l model.Listener) []*model.ModelFile {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()
	c.model.AddListener(l)
	return c.snapshotLocked()
}

// QueueCommand enqueues cmd for dispatch on the next tick. Safe to call
// from any goroutine; never blocks the reconciliation loop.
func (c *Controller) QueueCommand(cmd *Command) {
	c.commandQueue <- cmd
}

// Process advances the controller by exactly one tick: propagate fatal
// worker exceptions, reap finished one-shot workers, dispatch every queued
// command, then rebuild and publish the model. It returns promptly — the
// heavy lifting lives in the workers.
func (c *Controller) Process() error {
	if !c.started {
		return ErrNotStarted
	}
	if c.exited {
		return ErrAlreadyExited
	}

	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	if err := c.propagateExceptions(); err != nil {
		return err
	}
	if err := c.cleanupCommands(); err != nil {
		return err
	}
	c.processCommands()
	c.updateModel()
	return nil
}

func (c *Controller) propagateExceptions() error {
	if err := c.transferEngine.RaisePendingError(); err != nil {
		return &ErrWorkerFailure{Worker: "transfer-engine", Cause: err}
	}
	for name := range c.workers {
		if err := c.sup.PropagateException(name); err != nil {
			metrics.WorkerRestarts.WithLabelValues(name).Inc()
			return &ErrWorkerFailure{Worker: name, Cause: err}
		}
	}
	return nil
}

func (c *Controller) cleanupCommands() error {
	still := c.activeCommandProcesses[:0]
	for _, w := range c.activeCommandProcesses {
		if w.worker.IsAlive() {
			still = append(still, w)
			continue
		}
		w.postCallback()
		if err := w.worker.PropagateException(); err != nil {
			c.activeCommandProcesses = still
			return &ErrDeleteWorkerFailure{Name: w.name, Cause: err}
		}
	}
	c.activeCommandProcesses = still
	return nil
}

func (c *Controller) processCommands() {
	for {
		select {
		case cmd := <-c.commandQueue:
			c.dispatch(cmd)
		default:
			return
		}
	}
}

func (c *Controller) dispatch(cmd *Command) {
	c.logger.Info("received command", "action", cmd.Action.String(), "name", cmd.Filename)

	c.modelMu.Lock()
	file, err := c.model.GetFile(cmd.Filename)
	c.modelMu.Unlock()
	if err != nil {
		c.fail(cmd, fmt.Sprintf("File '%s' not found", cmd.Filename))
		return
	}

	switch cmd.Action {
	case ActionQueue:
		c.dispatchQueue(cmd, file)
	case ActionStop:
		c.dispatchStop(cmd, file)
	case ActionExtract:
		c.dispatchExtract(cmd, file)
	case ActionDeleteLocal:
		c.dispatchDeleteLocal(cmd, file)
	case ActionDeleteRemote:
		c.dispatchDeleteRemote(cmd, file)
	}
}

func (c *Controller) dispatchQueue(cmd *Command, file *model.ModelFile) {
	if file.RemoteSize == nil {
		c.fail(cmd, fmt.Sprintf("File '%s' does not exist remotely", file.Name))
		return
	}
	if ok, err := c.hasFreeSpace(*file.RemoteSize); err != nil {
		c.logger.Warn("disk space check failed, queueing anyway", slogutil.Error(err))
	} else if !ok {
		c.fail(cmd, fmt.Sprintf("not enough local disk space for '%s'", file.Name))
		return
	}
	if err := c.transferEngine.Queue(file.Name, file.IsDir); err != nil {
		c.fail(cmd, err.Error())
		return
	}
	c.succeed(cmd)
}

func (c *Controller) dispatchStop(cmd *Command, file *model.ModelFile) {
	if file.State != model.StateDownloading && file.State != model.StateQueued {
		c.fail(cmd, fmt.Sprintf("File '%s' is not Queued or Downloading", file.Name))
		return
	}
	if err := c.transferEngine.Kill(file.Name); err != nil {
		c.fail(cmd, err.Error())
		return
	}
	c.succeed(cmd)
}

func (c *Controller) dispatchExtract(cmd *Command, file *model.ModelFile) {
	if !extractableState(file.State) {
		c.fail(cmd, fmt.Sprintf("File '%s' in state %s cannot be extracted", file.Name, file.State))
		return
	}
	if file.LocalSize == nil {
		c.fail(cmd, fmt.Sprintf("File '%s' does not exist locally", file.Name))
		return
	}
	c.extractor.Extract(file)
	c.succeed(cmd)
}

func (c *Controller) dispatchDeleteLocal(cmd *Command, file *model.ModelFile) {
	if !extractableState(file.State) {
		c.fail(cmd, fmt.Sprintf("Local file '%s' cannot be deleted in state %s", file.Name, file.State))
		return
	}
	if file.LocalSize == nil {
		c.fail(cmd, fmt.Sprintf("File '%s' does not exist locally", file.Name))
		return
	}
	worker := c.newLocalDeleteWorker(file.Name)
	c.activeCommandProcesses = append(c.activeCommandProcesses, &commandProcessWrapper{
		name:         file.Name,
		worker:       worker,
		postCallback: c.localScanner.ForceScan,
	})
	worker.Start()
	c.succeed(cmd)
}

func (c *Controller) dispatchDeleteRemote(cmd *Command, file *model.ModelFile) {
	if !deletableRemoteState(file.State) {
		c.fail(cmd, fmt.Sprintf("Remote file '%s' cannot be deleted in state %s", file.Name, file.State))
		return
	}
	if file.RemoteSize == nil {
		c.fail(cmd, fmt.Sprintf("File '%s' does not exist remotely", file.Name))
		return
	}
	worker := c.newRemoteDeleteWorker(file.Name)
	c.activeCommandProcesses = append(c.activeCommandProcesses, &commandProcessWrapper{
		name:         file.Name,
		worker:       worker,
		postCallback: c.remoteScanner.ForceScan,
	})
	worker.Start()
	c.succeed(cmd)
}

func extractableState(s model.State) bool {
	switch s {
	case model.StateDefault, model.StateDownloaded, model.StateExtracted:
		return true
	default:
		return false
	}
}

func deletableRemoteState(s model.State) bool {
	switch s {
	case model.StateDefault, model.StateDownloaded, model.StateExtracted, model.StateDeleted:
		return true
	default:
		return false
	}
}

func (c *Controller) hasFreeSpace(need int64) (bool, error) {
	if c.freeSpace == nil {
		return true, nil
	}
	free, err := c.freeSpace(c.localRoot)
	if err != nil {
		return true, err
	}
	return free >= uint64(need), nil
}

func (c *Controller) fail(cmd *Command, msg string) {
	c.logger.Warn("command failed", "action", cmd.Action.String(), "name", cmd.Filename, "reason", msg)
	metrics.CommandsTotal.WithLabelValues(cmd.Action.String(), "failure").Inc()
	cmd.notifyFailure(msg)
}

func (c *Controller) succeed(cmd *Command) {
	metrics.CommandsTotal.WithLabelValues(cmd.Action.String(), "success").Inc()
	cmd.notifySuccess()
}

func (c *Controller) updateModel() {
	var localResult, remoteResult, activeResult *scanner.Result
	if r, ok := c.localScanner.PopLatestResult(); ok {
		localResult = r
	}
	if r, ok := c.remoteScanner.PopLatestResult(); ok {
		remoteResult = r
	}
	if r, ok := c.activeScanner.PopLatestResult(); ok {
		activeResult = r
	}

	statuses, statusErr := c.transferEngine.Status()
	statusesOK := statusErr == nil
	if statusErr != nil {
		c.logger.Warn("transfer engine status failed, skipping this tick's transfer input", slogutil.Error(statusErr))
	}

	extractStatuses, hasExtractStatuses := c.extractor.PopLatestStatuses()
	completed := c.extractor.PopCompleted()

	var active []string
	if statusesOK {
		for _, s := range statuses {
			if s.State == transfer.JobRunning {
				active = append(active, s.Name)
			}
		}
	}
	for _, s := range extractStatuses {
		if s.State == model.ExtractExtracting {
			active = append(active, s.Name)
		}
	}
	c.activeScanner.SetActiveFiles(active)

	if localResult != nil {
		c.builder.SetLocalFiles(localResult.Files)
	}
	if remoteResult != nil {
		c.builder.SetRemoteFiles(remoteResult.Files)
	}
	if activeResult != nil {
		c.builder.SetActiveFiles(activeResult.Files)
	}
	if statusesOK {
		c.builder.SetTransferStatuses(toModelTransferStatuses(statuses))
	}
	if hasExtractStatuses {
		c.builder.SetExtractStatuses(extractStatuses)
	}
	for _, name := range completed {
		if err := c.persist.AddExtracted(name); err != nil {
			c.logger.Warn("failed to persist extracted name", "name", name, slogutil.Error(err))
		}
	}
	if len(completed) > 0 {
		c.builder.SetExtractedNames(c.persist.ExtractedFileNames)
	}

	newModel := c.builder.Build()

	c.modelMu.Lock()
	defer c.modelMu.Unlock()

	diffs := model.DiffModels(c.model, newModel)
	for _, d := range diffs {
		switch d.Change {
		case model.Added:
			_ = c.model.AddFile(d.New)
		case model.Removed:
			_ = c.model.RemoveFile(d.Old.Name)
		case model.Updated:
			_ = c.model.UpdateFile(d.New)
		}
		if becameDownloaded(d) {
			if err := c.persist.AddDownloaded(d.New.Name); err != nil {
				c.logger.Warn("failed to persist downloaded name", "name", d.New.Name, slogutil.Error(err))
			}
			c.builder.SetDownloadedNames(c.persist.DownloadedFileNames)
		}
	}
	c.pruneExtracted()
	metrics.ModelSize.Set(float64(len(c.model.GetFileNames())))
}

func becameDownloaded(d model.Diff) bool {
	switch d.Change {
	case model.Added:
		return d.New.State == model.StateDownloaded
	case model.Updated:
		return d.New.State == model.StateDownloaded && d.Old.State != model.StateDownloaded
	default:
		return false
	}
}

// pruneExtracted drops any name from persist.ExtractedFileNames whose file
// just transitioned to DELETED, so a future re-download isn't mislabelled
// EXTRACTED (spec.md §3 invariant, scenario 4).
func (c *Controller) pruneExtracted() {
	var toRemove []string
	for name := range c.persist.ExtractedFileNames {
		f, err := c.model.GetFile(name)
		if err != nil {
			continue
		}
		if f.State == model.StateDeleted {
			toRemove = append(toRemove, name)
		}
	}
	if len(toRemove) == 0 {
		return
	}
	c.logger.Info("pruning extracted list", "names", toRemove)
	for _, name := range toRemove {
		if err := c.persist.RemoveExtracted(name); err != nil {
			c.logger.Warn("failed to prune extracted name", "name", name, slogutil.Error(err))
		}
	}
	c.builder.SetExtractedNames(c.persist.ExtractedFileNames)
}

func toModelTransferStatuses(statuses []transfer.Status) []model.TransferStatus {
	out := make([]model.TransferStatus, 0, len(statuses))
	for _, s := range statuses {
		state := model.TransferQueued
		if s.State == transfer.JobRunning {
			state = model.TransferRunning
		}
		var eta *float64
		if s.ETA != nil {
			v := s.ETA.Seconds()
			eta = &v
		}
		out = append(out, model.TransferStatus{Name: s.Name, State: state, Speed: s.Speed, ETA: eta})
	}
	return out
}
