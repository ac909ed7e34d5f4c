package blobstore

import (
	"context"

	"github.com/blobmux/blobmux/internal/model"
)

// ReadOnlyStore wraps a store and rejects all writes with ErrReadOnly.
// Used to drain a store before decommissioning it from a multiplex.
type ReadOnlyStore struct {
	inner Store
}

// NewReadOnlyStore wraps inner in a write-rejecting shell.
func NewReadOnlyStore(inner Store) *ReadOnlyStore {
	return &ReadOnlyStore{inner: inner}
}

func (s *ReadOnlyStore) Get(ctx context.Context, key string) (*model.BlobValue, error) {
	return s.inner.Get(ctx, key)
}

func (s *ReadOnlyStore) Put(_ context.Context, _ string, _ model.BlobValue) error {
	return ErrReadOnly
}

func (s *ReadOnlyStore) PutWithBehaviour(_ context.Context, _ string, _ model.BlobValue, _ model.PutBehaviour) (model.OverwriteStatus, error) {
	return model.OverwriteNotChecked, ErrReadOnly
}

func (s *ReadOnlyStore) IsPresent(ctx context.Context, key string) (bool, error) {
	return s.inner.IsPresent(ctx, key)
}
