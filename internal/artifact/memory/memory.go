// Package memory provides an in-memory ArtifactStore for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Store keeps artifacts in a map.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// PutObject stores a copy of data under path.
func (s *Store) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// GetObject returns a copy of the stored data.
func (s *Store) GetObject(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return append([]byte(nil), data...), nil
}

// DeleteObject removes an object. Missing objects are not an error.
func (s *Store) DeleteObject(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// Exists reports whether an object is present.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

// Corrupt overwrites a stored object in place. Test helper.
func (s *Store) Corrupt(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
}
