// Package checkpoint implements the Checkpoint Store (spec.md §4.4's
// dependency, data model §3): a durable, atomically-written record of each
// module's last-completed status and opaque resume data. Atomic write
// contract grounded on the teacher's internal/jsondb
// writeFileAtomically(dir, name, perm, writeFunc) behavior: no stray temp
// file is left behind on success or failure.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is one of the three terminal states a module checkpoint can carry.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// Record is the persisted state for one module.
type Record struct {
	Module      string          `json:"module"`
	Status      Status          `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	Error       string          `json:"error,omitempty"`
	ResumeData  json.RawMessage `json:"resume_data,omitempty"`
}

const fileName = "checkpoints.json"
const filePerm = 0o644

// Store persists Records under a workspace's state/ directory.
type Store struct {
	dir string

	mu      sync.Mutex
	records map[string]Record
}

// Open loads any existing checkpoint file under dir, or starts empty.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir, records: make(map[string]Record)}

	raw, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading checkpoint store: %w", err)
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding checkpoint store: %w", err)
	}
	for _, r := range records {
		s.records[r.Module] = r
	}
	return s, nil
}

// Get returns the current record for a module, and whether one exists.
func (s *Store) Get(module string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[module]
	return r, ok
}

// All returns a copy of every recorded checkpoint keyed by module name. A
// map has no order; callers order it against the canonical module list.
func (s *Store) All() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Put records module's outcome and persists the store atomically.
func (s *Store) Put(r Record) error {
	s.mu.Lock()
	s.records[r.Module] = r
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	return writeFileAtomically(s.dir, fileName, filePerm, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	})
}

func (s *Store) snapshotLocked() []Record {
	out := make([]Record, 0, len(s.records))
	for _, v := range s.records {
		out = append(out, v)
	}
	return out
}

// writeFileAtomically writes via a temp file in dir then renames over name,
// so a crash mid-write never corrupts the existing file and never leaves a
// stray temp file behind on success. Mirrors the teacher's jsondb contract.
func writeFileAtomically(dir, name string, perm os.FileMode, writeFunc func(*os.File) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := writeFunc(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}
	succeeded = true
	return nil
}
