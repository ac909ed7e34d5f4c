package blobstore

import (
	"context"
	"sync"

	"github.com/blobmux/blobmux/internal/model"
)

// MemoryStore is an in-process store backed by a map. Used in tests and
// single-node deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.BlobValue
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]model.BlobValue),
	}
}

// Get returns the stored value, or nil when absent.
func (s *MemoryStore) Get(_ context.Context, key string) (*model.BlobValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	// Copy so callers cannot mutate stored bytes.
	out := model.BlobValue{Data: append([]byte(nil), value.Data...), Ctime: value.Ctime}
	return &out, nil
}

// Put stores the value unconditionally.
func (s *MemoryStore) Put(ctx context.Context, key string, value model.BlobValue) error {
	_, err := s.PutWithBehaviour(ctx, key, value, model.PutOverwrite)
	return err
}

// PutWithBehaviour stores the value under the given overwrite policy.
func (s *MemoryStore) PutWithBehaviour(_ context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if behaviour == model.PutIfAbsent {
		if _, ok := s.data[key]; ok {
			return model.OverwritePrevented, nil
		}
	}
	s.data[key] = model.BlobValue{Data: append([]byte(nil), value.Data...), Ctime: value.Ctime}
	return model.OverwriteNotChecked, nil
}

// IsPresent reports whether the key exists.
func (s *MemoryStore) IsPresent(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok, nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
