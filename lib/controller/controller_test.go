package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidalsync/tidalsync/lib/model"
	"github.com/tidalsync/tidalsync/lib/persist"
	"github.com/tidalsync/tidalsync/lib/scanner"
	"github.com/tidalsync/tidalsync/lib/transfer"
)

type fakeScanner struct {
	result *scanner.Result
	forced int
}

func (f *fakeScanner) PopLatestResult() (*scanner.Result, bool) {
	if f.result == nil {
		return nil, false
	}
	r := f.result
	f.result = nil
	return r, true
}

func (f *fakeScanner) ForceScan() { f.forced++ }

type fakeActiveScanner struct {
	fakeScanner
	activeNames []string
}

func (f *fakeActiveScanner) SetActiveFiles(names []string) { f.activeNames = names }

type fakeExtractor struct {
	extracted   []*model.ModelFile
	statuses    []model.ExtractStatus
	hasStatuses bool
	completed   []string
}

func (f *fakeExtractor) Extract(file *model.ModelFile) { f.extracted = append(f.extracted, file) }
func (f *fakeExtractor) PopLatestStatuses() ([]model.ExtractStatus, bool) {
	return f.statuses, f.hasStatuses
}
func (f *fakeExtractor) PopCompleted() []string {
	c := f.completed
	f.completed = nil
	return c
}

type fakeEngine struct {
	queued     map[string]bool
	killed     map[string]bool
	statuses   []transfer.Status
	statusErr  error
	exitErr    error
	pendingErr error
	queueErr   error
}

func (f *fakeEngine) Queue(name string, isDir bool) error {
	if f.queueErr != nil {
		return f.queueErr
	}
	if f.queued == nil {
		f.queued = map[string]bool{}
	}
	f.queued[name] = true
	return nil
}

func (f *fakeEngine) Kill(name string) error {
	if f.killed == nil {
		f.killed = map[string]bool{}
	}
	f.killed[name] = true
	return nil
}

func (f *fakeEngine) Status() ([]transfer.Status, error) { return f.statuses, f.statusErr }
func (f *fakeEngine) Exit() error                        { return f.exitErr }
func (f *fakeEngine) RaisePendingError() error {
	err := f.pendingErr
	f.pendingErr = nil
	return err
}

type fakeDeleteWorker struct {
	alive bool
	err   error
}

func (w *fakeDeleteWorker) Start()                    { w.alive = true }
func (w *fakeDeleteWorker) IsAlive() bool              { return w.alive }
func (w *fakeDeleteWorker) PropagateException() error { return w.err }

type recordingCallback struct {
	succeeded bool
	failed    bool
	reason    string
}

func (c *recordingCallback) OnSuccess()          { c.succeeded = true }
func (c *recordingCallback) OnFailure(msg string) { c.failed, c.reason = true, msg }

func newTestController(t *testing.T) (*Controller, *fakeScanner, *fakeScanner, *fakeActiveScanner, *fakeExtractor, *fakeEngine) {
	t.Helper()
	store, err := persist.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	local := &fakeScanner{}
	remote := &fakeScanner{}
	active := &fakeActiveScanner{}
	extractor := &fakeExtractor{}
	engine := &fakeEngine{}

	c := New(Config{
		LocalScanner:   local,
		RemoteScanner:  remote,
		ActiveScanner:  active,
		Extractor:      extractor,
		TransferEngine: engine,
		Persist:        store,
		LocalRoot:      "/local",
		NewLocalDeleteWorker: func(name string) DeleteWorker {
			return &fakeDeleteWorker{}
		},
		NewRemoteDeleteWorker: func(name string) DeleteWorker {
			return &fakeDeleteWorker{}
		},
	})
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Exit() })
	return c, local, remote, active, extractor, engine
}

func int64p(v int64) *int64 { return &v }

func TestHappyDownloadLifecycle(t *testing.T) {
	c, local, remote, _, extractor, engine := newTestController(t)

	// Tick 1: remote scan observes a new file.
	remote.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/remote/album", Size: int64p(100)},
	}}
	require.NoError(t, c.Process())

	files := c.GetModelFiles()
	require.Len(t, files, 1)
	assert.Equal(t, model.StateDefault, files[0].State)
	assert.Equal(t, int64(100), *files[0].RemoteSize)

	// Tick 2: queue it.
	cb := &recordingCallback{}
	cmd := NewCommand(ActionQueue, "album")
	cmd.AddCallback(cb)
	c.QueueCommand(cmd)
	require.NoError(t, c.Process())
	assert.True(t, cb.succeeded)
	assert.True(t, engine.queued["album"])

	// Tick 3: transfer engine reports the job running.
	engine.statuses = []transfer.Status{{Name: "album", State: transfer.JobRunning}}
	require.NoError(t, c.Process())
	files = c.GetModelFiles()
	require.Len(t, files, 1)
	assert.Equal(t, model.StateDownloading, files[0].State)

	// Tick 4: transfer finishes, local scanner now sees the file.
	engine.statuses = nil
	local.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/local/album", Size: int64p(100)},
	}}
	require.NoError(t, c.Process())
	files = c.GetModelFiles()
	require.Len(t, files, 1)
	assert.Equal(t, model.StateDownloaded, files[0].State)

	// Tick 5: extract it.
	extractCb := &recordingCallback{}
	extractCmd := NewCommand(ActionExtract, "album")
	extractCmd.AddCallback(extractCb)
	c.QueueCommand(extractCmd)
	require.NoError(t, c.Process())
	assert.True(t, extractCb.succeeded)
	require.Len(t, extractor.extracted, 1)

	// Tick 6: extractor reports completion.
	extractor.completed = []string{"album"}
	require.NoError(t, c.Process())
	files = c.GetModelFiles()
	require.Len(t, files, 1)
	assert.Equal(t, model.StateExtracted, files[0].State)
}

func TestQueueMissingRemoteFails(t *testing.T) {
	c, local, _, _, _, _ := newTestController(t)

	// Seed a local-only file so the command finds a file, but with no
	// remote presence.
	local.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "orphan", FullPath: "/local/orphan", Size: int64p(10)},
	}}
	require.NoError(t, c.Process())

	cb := &recordingCallback{}
	cmd := NewCommand(ActionQueue, "orphan")
	cmd.AddCallback(cb)
	c.QueueCommand(cmd)
	require.NoError(t, c.Process())

	assert.True(t, cb.failed)
	assert.Equal(t, "File 'orphan' does not exist remotely", cb.reason)
}

func TestQueueUnknownFileFails(t *testing.T) {
	c, _, _, _, _, _ := newTestController(t)

	cb := &recordingCallback{}
	cmd := NewCommand(ActionQueue, "nope")
	cmd.AddCallback(cb)
	c.QueueCommand(cmd)
	require.NoError(t, c.Process())

	assert.True(t, cb.failed)
	assert.Equal(t, "File 'nope' not found", cb.reason)
}

func TestStopWhenIdleFails(t *testing.T) {
	c, _, remote, _, _, _ := newTestController(t)
	remote.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/remote/album", Size: int64p(100)},
	}}
	require.NoError(t, c.Process())

	cb := &recordingCallback{}
	cmd := NewCommand(ActionStop, "album")
	cmd.AddCallback(cb)
	c.QueueCommand(cmd)
	require.NoError(t, c.Process())

	assert.True(t, cb.failed)
	assert.Equal(t, "File 'album' is not Queued or Downloading", cb.reason)
}

func TestDiskGuardBlocksQueue(t *testing.T) {
	c, _, remote, _, _, engine := newTestController(t)
	c.freeSpace = func(path string) (uint64, error) { return 1, nil } // 1 byte free

	remote.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/remote/album", Size: int64p(100)},
	}}
	require.NoError(t, c.Process())

	cb := &recordingCallback{}
	cmd := NewCommand(ActionQueue, "album")
	cmd.AddCallback(cb)
	c.QueueCommand(cmd)
	require.NoError(t, c.Process())

	assert.True(t, cb.failed)
	assert.Equal(t, "not enough local disk space for 'album'", cb.reason)
	assert.False(t, engine.queued["album"])
}

func TestDeleteLocalPrunesExtractedPersist(t *testing.T) {
	c, local, remote, _, extractor, _ := newTestController(t)

	remote.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/remote/album", Size: int64p(100)},
	}}
	local.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/local/album", Size: int64p(100)},
	}}
	require.NoError(t, c.Process())

	extractCmd := NewCommand(ActionExtract, "album")
	c.QueueCommand(extractCmd)
	require.NoError(t, c.Process())

	extractor.completed = []string{"album"}
	require.NoError(t, c.Process())
	require.Contains(t, c.persist.ExtractedFileNames, "album")

	// Delete it locally; fakeDeleteWorker.Start marks itself alive, then we
	// simulate it finishing before the next tick so cleanupCommands reaps it.
	deleteCb := &recordingCallback{}
	deleteCmd := NewCommand(ActionDeleteLocal, "album")
	deleteCmd.AddCallback(deleteCb)
	c.QueueCommand(deleteCmd)
	require.NoError(t, c.Process())
	assert.True(t, deleteCb.succeeded)
	require.Len(t, c.activeCommandProcesses, 1)
	c.activeCommandProcesses[0].worker.(*fakeDeleteWorker).alive = false

	// Neither scan reports the file any more. Local presence is gone, so the
	// next rebuild marks it DELETED and the extracted-persist entry should
	// be pruned.
	remote.result = &scanner.Result{}
	local.result = &scanner.Result{}
	require.NoError(t, c.Process())

	files := c.GetModelFiles()
	require.Len(t, files, 1)
	assert.Equal(t, model.StateDeleted, files[0].State)
	assert.NotContains(t, c.persist.ExtractedFileNames, "album")
}

func TestWorkerFailureIsFatal(t *testing.T) {
	c, _, _, _, _, engine := newTestController(t)
	engine.pendingErr = assertError{"lftp exploded"}

	err := c.Process()
	require.Error(t, err)
	var wf *ErrWorkerFailure
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, "transfer-engine", wf.Worker)
}

func TestTransientStatusErrorDoesNotFailTick(t *testing.T) {
	c, _, remote, _, _, engine := newTestController(t)
	remote.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/remote/album", Size: int64p(100)},
	}}
	require.NoError(t, c.Process())

	engine.statuses = []transfer.Status{{Name: "album", State: transfer.JobRunning}}
	require.NoError(t, c.Process())
	files := c.GetModelFiles()
	assert.Equal(t, model.StateDownloading, files[0].State)

	// Next tick the engine's status() call fails transiently; the loop must
	// not error, and the sticky transfer state should be retained.
	engine.statusErr = assertError{"connection reset"}
	require.NoError(t, c.Process())
	files = c.GetModelFiles()
	assert.Equal(t, model.StateDownloading, files[0].State)
}

func TestSubscribeAndSnapshotIsAtomic(t *testing.T) {
	c, _, remote, _, _, _ := newTestController(t)
	remote.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/remote/album", Size: int64p(100)},
	}}
	require.NoError(t, c.Process())

	var added []string
	l := model.Listener(recordingListener{added: &added})
	snapshot := c.SubscribeAndSnapshot(l)
	require.Len(t, snapshot, 1)

	remote.result = &scanner.Result{Files: []model.FileRecord{
		{Name: "album", FullPath: "/remote/album", Size: int64p(100)},
		{Name: "second", FullPath: "/remote/second", Size: int64p(5)},
	}}
	require.NoError(t, c.Process())

	// The listener must have observed exactly the one change that happened
	// after the snapshot was taken, with no gap and no duplicate.
	assert.Equal(t, []string{"second"}, added)
}

type recordingListener struct {
	added *[]string
}

func (l recordingListener) FileAdded(f *model.ModelFile)             { *l.added = append(*l.added, f.Name) }
func (l recordingListener) FileRemoved(f *model.ModelFile)           {}
func (l recordingListener) FileUpdated(old, new *model.ModelFile) {}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
