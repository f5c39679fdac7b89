package persist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AddDownloaded("A.iso"))
	require.NoError(t, s.AddExtracted("B.zip"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	_, downloaded := s2.DownloadedFileNames["A.iso"]
	_, extracted := s2.ExtractedFileNames["B.zip"]
	assert.True(t, downloaded)
	assert.True(t, extracted)
}

func TestRemoveExtractedPrunesPersist(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "persist.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AddExtracted("B.zip"))
	require.NoError(t, s.RemoveExtracted("B.zip"))

	_, extracted := s.ExtractedFileNames["B.zip"]
	assert.False(t, extracted)
}
