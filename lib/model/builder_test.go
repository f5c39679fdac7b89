package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderRemoteOnlyIsDefault(t *testing.T) {
	b := NewBuilder()
	b.SetRemoteFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})

	m := b.Build()
	f, err := m.GetFile("A.iso")
	require.NoError(t, err)
	assert.Equal(t, StateDefault, f.State)
	assert.Equal(t, int64(100), *f.RemoteSize)
	assert.Nil(t, f.LocalSize)
}

func TestBuilderQueuedThenRunningThenDownloaded(t *testing.T) {
	b := NewBuilder()
	b.SetRemoteFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})

	// Tick 1: queued
	b.SetTransferStatuses([]TransferStatus{{Name: "A.iso", State: TransferQueued}})
	m1 := b.Build()
	f1, _ := m1.GetFile("A.iso")
	assert.Equal(t, StateQueued, f1.State)

	// Tick 2: running
	b.SetTransferStatuses([]TransferStatus{{Name: "A.iso", State: TransferRunning, Speed: Int64Ptr(1024)}})
	m2 := b.Build()
	f2, _ := m2.GetFile("A.iso")
	assert.Equal(t, StateDownloading, f2.State)
	assert.Equal(t, int64(1024), *f2.DownloadingSpeed)

	// Tick 3: local scan shows the full file, transfer status gone, marked downloaded
	b.SetTransferStatuses(nil)
	b.SetLocalFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})
	b.SetDownloadedNames(map[string]struct{}{"A.iso": {}})
	m3 := b.Build()
	f3, _ := m3.GetFile("A.iso")
	assert.Equal(t, StateDownloaded, f3.State)
}

func TestBuilderStickyRemoteSurvivesMissingScan(t *testing.T) {
	b := NewBuilder()
	b.SetRemoteFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})
	m1 := b.Build()
	f1, _ := m1.GetFile("A.iso")
	require.Equal(t, int64(100), *f1.RemoteSize)

	// Another tick with no remote scan result at all (nil slice was never
	// re-set) must not drop the sticky remote observation.
	b.SetLocalFiles([]FileRecord{{Name: "B.txt", Size: Int64Ptr(5)}})
	m2 := b.Build()
	f2, err := m2.GetFile("A.iso")
	require.NoError(t, err)
	assert.Equal(t, int64(100), *f2.RemoteSize)
}

func TestBuilderLocalGoneAfterDownloadIsDeleted(t *testing.T) {
	b := NewBuilder()
	b.SetRemoteFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})
	b.SetLocalFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})
	b.SetDownloadedNames(map[string]struct{}{"A.iso": {}})
	m1 := b.Build()
	f1, _ := m1.GetFile("A.iso")
	require.Equal(t, StateDownloaded, f1.State)

	// Local copy disappears; the remote scan still reports it untouched.
	// The name must stay in the model, now as DELETED, rather than falling
	// back to DEFAULT just because remote presence persists.
	b.SetLocalFiles(nil)
	m2 := b.Build()
	f2, err := m2.GetFile("A.iso")
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, f2.State)
}

func TestBuilderDeletedSurvivesWhenBothScansGoEmpty(t *testing.T) {
	b := NewBuilder()
	b.SetExtractedNames(map[string]struct{}{"B.zip": {}})
	b.SetLocalFiles([]FileRecord{{Name: "B.zip", Size: Int64Ptr(10)}})
	m1 := b.Build()
	f1, _ := m1.GetFile("B.zip")
	require.Equal(t, StateExtracted, f1.State)

	// Neither scan reports the name at all anymore. It must still surface
	// as DELETED, since it is a member of extractedNames, instead of
	// disappearing from the model the way a never-downloaded name would.
	b.SetLocalFiles(nil)
	m2 := b.Build()
	f2, err := m2.GetFile("B.zip")
	require.NoError(t, err)
	assert.Equal(t, StateDeleted, f2.State)
}

func TestBuilderDownloadCompletionIsSelfDetected(t *testing.T) {
	b := NewBuilder()
	b.SetRemoteFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})
	b.SetTransferStatuses([]TransferStatus{{Name: "A.iso", State: TransferRunning}})
	m1 := b.Build()
	f1, _ := m1.GetFile("A.iso")
	require.Equal(t, StateDownloading, f1.State)

	// Transfer status disappears and the local scan now sees the file.
	// downloadedNames has not been told about this yet — completion must be
	// detected from the DOWNLOADING -> local-presence transition itself.
	b.SetTransferStatuses(nil)
	b.SetLocalFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})
	m2 := b.Build()
	f2, err := m2.GetFile("A.iso")
	require.NoError(t, err)
	assert.Equal(t, StateDownloaded, f2.State)

	// A third call with unchanged inputs must yield the same state (P6).
	m3 := b.Build()
	f3, _ := m3.GetFile("A.iso")
	assert.Equal(t, StateDownloaded, f3.State)
}

func TestBuilderLocalOnlyNeverRemoteIsDefault(t *testing.T) {
	b := NewBuilder()
	b.SetLocalFiles([]FileRecord{{Name: "orphan.txt", Size: Int64Ptr(5)}})
	m := b.Build()
	f, err := m.GetFile("orphan.txt")
	require.NoError(t, err)
	assert.Equal(t, StateDefault, f.State)
}

func TestBuilderExtractedRequiresLocalPresence(t *testing.T) {
	b := NewBuilder()
	b.SetExtractedNames(map[string]struct{}{"B.zip": {}})
	b.SetLocalFiles([]FileRecord{{Name: "B.zip", Size: Int64Ptr(10)}})
	m := b.Build()
	f, err := m.GetFile("B.zip")
	require.NoError(t, err)
	assert.Equal(t, StateExtracted, f.State)
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder()
	b.SetRemoteFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(100)}})
	b.SetLocalFiles([]FileRecord{{Name: "A.iso", Size: Int64Ptr(50)}})
	b.SetTransferStatuses([]TransferStatus{{Name: "A.iso", State: TransferRunning, Speed: Int64Ptr(10)}})

	m1 := b.Build()
	m2 := b.Build()

	f1, _ := m1.GetFile("A.iso")
	f2, _ := m2.GetFile("A.iso")
	assert.True(t, f1.Equal(f2))
}
