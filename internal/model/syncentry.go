package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationKey is the idempotency token shared by every sync-queue entry
// produced by one logical put. A consumer that sees two entries with the
// same operation key knows they originate from the same write and can
// dedupe retried puts.
type OperationKey string

// NewOperationKey generates a fresh operation key.
func NewOperationKey() OperationKey {
	return OperationKey(uuid.New().String())
}

// IsNull reports whether the key is the empty sentinel. Entries must
// never be persisted with a null key.
func (k OperationKey) IsNull() bool { return k == "" }

// SyncEntry records that one backing store is missing one blob. Entries
// are appended by puts that could not reach every store synchronously
// and deleted once the healer confirms the store holds the blob.
type SyncEntry struct {
	// ID is assigned by the queue store on insert.
	ID           int64
	BlobstoreKey string
	BlobstoreID  StoreID
	MultiplexID  MultiplexID
	Timestamp    time.Time
	OperationKey OperationKey
	// BlobSize lets offline consumers estimate repair cost without
	// fetching the blob. Zero means unknown.
	BlobSize uint64
}

// NewSyncEntry builds an entry for one (key, store) write gap.
func NewSyncEntry(key string, storeID StoreID, multiplexID MultiplexID, opKey OperationKey, blobSize uint64) *SyncEntry {
	return &SyncEntry{
		BlobstoreKey: key,
		BlobstoreID:  storeID,
		MultiplexID:  multiplexID,
		Timestamp:    time.Now().UTC(),
		OperationKey: opKey,
		BlobSize:     blobSize,
	}
}
