package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	ioutils "github.com/booksnap/booksnap/internal/io"
	"github.com/booksnap/booksnap/internal/model"
)

// Store persists DownloadState records, one JSON file per identity,
// under a metadata directory.
//
// Save is atomic with respect to concurrent reads: records are written
// to a temp file and renamed into place, so a crash mid-save never
// corrupts previously committed state.
type Store struct {
	dir string
}

// NewStore creates the metadata directory if needed and returns a Store
// over it.
func NewStore(dir string) (*Store, error) {
	if err := ioutils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Load reads the state record for id. It returns (nil, nil) when no
// record exists yet.
func (st *Store) Load(id model.BookID) (*DownloadState, error) {
	data, err := os.ReadFile(st.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var s DownloadState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt state record for %s: %w", id, err)
	}
	return &s, nil
}

// Save writes the state record atomically.
func (st *Store) Save(s *DownloadState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return ioutils.WriteFileAtomic(st.path(s.ID), data, 0644)
}

func (st *Store) path(id model.BookID) string {
	return filepath.Join(st.dir, id.String()+".json")
}
