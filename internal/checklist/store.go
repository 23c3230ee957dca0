package checklist

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
)

// Store persists tracker state. Implementations must tolerate concurrent
// Save calls from different requests; the tracker serializes them anyway.
type Store interface {
	Load() (States, error)
	Save(States) error
}

// MemStore keeps state in memory only. Used in tests and as the fallback
// when no persistence is configured.
type MemStore struct {
	states States
}

func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) Load() (States, error) {
	if m.states == nil {
		return States{}, nil
	}
	return m.states.clone(), nil
}

func (m *MemStore) Save(s States) error {
	m.states = s.clone()
	return nil
}

// FileStore persists state as indented JSON so operators can inspect and
// hand-edit it. Timestamps serialize as RFC 3339 UTC.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore { return &FileStore{path: path} }

func (f *FileStore) Load() (States, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[INFO] Checklist: no saved state at %s, starting fresh", f.path)
		return States{}, nil
	}
	if err != nil {
		return nil, err
	}
	var s States
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *FileStore) Save(s States) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
