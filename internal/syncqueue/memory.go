package syncqueue

import (
	"context"
	"sort"
	"sync"

	"github.com/blobmux/blobmux/internal/model"
)

// MemoryQueue is an in-process queue used in tests and single-node
// deployments. Entries do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[int64]*model.SyncEntry
	nextID  int64
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		entries: make(map[int64]*model.SyncEntry),
		nextID:  1,
	}
}

func (q *MemoryQueue) Add(_ context.Context, entry *model.SyncEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addLocked(entry)
	return nil
}

func (q *MemoryQueue) AddMany(_ context.Context, entries []*model.SyncEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range entries {
		q.addLocked(entry)
	}
	return nil
}

func (q *MemoryQueue) addLocked(entry *model.SyncEntry) {
	stored := *entry
	stored.ID = q.nextID
	q.nextID++
	q.entries[stored.ID] = &stored
	entry.ID = stored.ID
}

func (q *MemoryQueue) Get(_ context.Context, key string) ([]*model.SyncEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.SyncEntry, 0)
	for _, entry := range q.entries {
		if entry.BlobstoreKey == key {
			copied := *entry
			out = append(out, &copied)
		}
	}
	sortEntries(out)
	return out, nil
}

func (q *MemoryQueue) Del(_ context.Context, entries []*model.SyncEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range entries {
		if _, ok := q.entries[entry.ID]; !ok {
			return ErrNotFound
		}
		delete(q.entries, entry.ID)
	}
	return nil
}

func (q *MemoryQueue) List(_ context.Context, limit int) ([]*model.SyncEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.SyncEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		copied := *entry
		out = append(out, &copied)
	}
	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of live entries.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func sortEntries(entries []*model.SyncEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
