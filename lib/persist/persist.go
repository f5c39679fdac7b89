// Package persist durably remembers which file names have ever reached
// DOWNLOADED or EXTRACTED, so ModelBuilder can tell DEFAULT apart from
// DOWNLOADED/EXTRACTED when only local evidence is available.
package persist

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	downloadedPrefix = "d:"
	extractedPrefix  = "e:"
)

// Store is the durable backing for the two persisted name sets. The sets
// are also kept in memory so the reconciliation loop can hand them directly
// to ModelBuilder without a database round trip every tick.
type Store struct {
	db *leveldb.DB

	DownloadedFileNames map[string]struct{}
	ExtractedFileNames  map[string]struct{}
}

// Open loads (or creates) the leveldb database at path and populates the
// in-memory sets from it.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:                  db,
		DownloadedFileNames: map[string]struct{}{},
		ExtractedFileNames:  map[string]struct{}{},
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte(downloadedPrefix)), nil)
	for it.Next() {
		s.DownloadedFileNames[string(it.Key()[len(downloadedPrefix):])] = struct{}{}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	it = s.db.NewIterator(util.BytesPrefix([]byte(extractedPrefix)), nil)
	for it.Next() {
		s.ExtractedFileNames[string(it.Key()[len(extractedPrefix):])] = struct{}{}
	}
	it.Release()
	return it.Error()
}

// AddDownloaded records name as having reached DOWNLOADED, in memory and on
// disk.
func (s *Store) AddDownloaded(name string) error {
	s.DownloadedFileNames[name] = struct{}{}
	return s.db.Put([]byte(downloadedPrefix+name), nil, nil)
}

// AddExtracted records name as having been successfully extracted, in
// memory and on disk.
func (s *Store) AddExtracted(name string) error {
	s.ExtractedFileNames[name] = struct{}{}
	return s.db.Put([]byte(extractedPrefix+name), nil, nil)
}

// RemoveExtracted un-marks name as extracted. Called when the reconciliation
// loop observes name transition to DELETED, so a future re-download isn't
// silently labelled EXTRACTED (invariant from spec.md §3).
func (s *Store) RemoveExtracted(name string) error {
	delete(s.ExtractedFileNames, name)
	return s.db.Delete([]byte(extractedPrefix+name), nil)
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
