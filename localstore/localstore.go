// Package localstore keeps the session's history, favorites and preferences
// on the local machine.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"webforge/generator"
)

// FileStore persists the state as one JSON document. Every Save rewrites the
// whole file through a temp file and rename.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state path required")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(_ context.Context) (generator.PersistedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return generator.PersistedState{}, nil
		}
		return generator.PersistedState{}, err
	}
	var st generator.PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return generator.PersistedState{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return st, nil
}

func (f *FileStore) Save(_ context.Context, st generator.PersistedState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(f.path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := f.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(perm); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// MemoryStore keeps the state in memory. SaveErr, when set, is returned by
// Save without storing anything.
type MemoryStore struct {
	mu      sync.Mutex
	state   generator.PersistedState
	saves   int
	SaveErr error
}

func NewMemoryStore(initial generator.PersistedState) *MemoryStore {
	return &MemoryStore{state: initial}
}

func (m *MemoryStore) Load(_ context.Context) (generator.PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, nil
}

func (m *MemoryStore) Save(_ context.Context, st generator.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state = st
	m.saves++
	return nil
}

// Saves returns how many successful saves happened.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// State returns the last saved state.
func (m *MemoryStore) State() generator.PersistedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
