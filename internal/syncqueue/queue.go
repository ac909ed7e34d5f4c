// Package syncqueue is the durable log of write gaps. A put that cannot
// confirm every backing store appends one entry per missed store; the
// healer drains the queue by copying blobs into the stores named by the
// entries.
package syncqueue

import (
	"context"
	"errors"

	"github.com/blobmux/blobmux/internal/model"
)

// ErrNotFound is returned when a delete targets an entry that no longer
// exists.
var ErrNotFound = errors.New("sync queue entry not found")

// Queue is the durable gap log.
type Queue interface {
	// Add appends a single entry and fills in its ID.
	Add(ctx context.Context, entry *model.SyncEntry) error
	// AddMany appends all entries atomically where the backend allows
	// it; on error none or all entries may have been written.
	AddMany(ctx context.Context, entries []*model.SyncEntry) error
	// Get returns every live entry for a blobstore key, oldest first.
	Get(ctx context.Context, key string) ([]*model.SyncEntry, error)
	// Del removes the given entries once their gaps are healed.
	Del(ctx context.Context, entries []*model.SyncEntry) error
	// List returns up to limit live entries across all keys, oldest
	// first, for the healer to drain.
	List(ctx context.Context, limit int) ([]*model.SyncEntry, error)
}
