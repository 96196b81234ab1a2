// Package progress answers "is this accession already landed" across
// process restarts. The default backend probes the landing directory, which
// keeps the pipeline crash-safe with zero extra infrastructure; a leveldb
// backend is available for runs that want a real ledger.
package progress

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// Store tracks which work items have completed.
type Store interface {
	// IsDone reports whether the item identified by key has completed.
	IsDone(key string) (bool, error)

	// MarkDone records the item as completed.
	MarkDone(key string) error

	// Close releases any resources.
	Close() error
}

// NewDirStore creates a filesystem-probe store over a landing directory.
// An item is done when any non-empty file named after its key exists there;
// MarkDone is a no-op because landing the files is itself the mark.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// DirStore is the filesystem-state-as-ledger backend.
type DirStore struct {
	dir string
}

func (s *DirStore) IsDone(key string) (bool, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, key+"*"))
	if err != nil {
		return false, fmt.Errorf("probe landing dir for %s: %w", key, err)
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *DirStore) MarkDone(string) error { return nil }

func (s *DirStore) Close() error { return nil }

// NewLevelDBStore opens (creating if needed) a leveldb-backed ledger.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open progress ledger %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// LevelDBStore records completion in an embedded key-value store.
type LevelDBStore struct {
	db *leveldb.DB
}

func (s *LevelDBStore) IsDone(key string) (bool, error) {
	ok, err := s.db.Has([]byte(key), nil)
	if err != nil {
		return false, fmt.Errorf("read progress ledger for %s: %w", key, err)
	}
	return ok, nil
}

func (s *LevelDBStore) MarkDone(key string) error {
	value := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("mark %s done: %w", key, err)
	}
	return nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
