// Package blobstore defines the uniform contract a single backing store
// exposes to the multiplex layer, plus the store implementations shipped
// with this service.
package blobstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/blobmux/blobmux/internal/model"
)

var (
	// ErrReadOnly is returned by write operations on a read-only store.
	ErrReadOnly = errors.New("blobstore is read-only")
)

// Store is a single backing blob store. Implementations must be safe for
// concurrent use; the multiplex layer performs no locking of its own.
type Store interface {
	// Get returns the stored value, or (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) (*model.BlobValue, error)
	// Put stores the value, overwriting any previous value.
	Put(ctx context.Context, key string, value model.BlobValue) error
	// PutWithBehaviour stores the value under the given overwrite policy
	// and reports whether an existing value prevented the write.
	PutWithBehaviour(ctx context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error)
	// IsPresent reports whether the key exists without fetching bytes.
	IsPresent(ctx context.Context, key string) (bool, error)
}

// encodeValue serializes a blob value for stores that persist raw bytes.
// Layout: 8-byte big-endian ctime (unix nanoseconds) followed by the
// payload.
func encodeValue(value model.BlobValue) []byte {
	buf := make([]byte, 8+len(value.Data))
	binary.BigEndian.PutUint64(buf, uint64(value.Ctime.UnixNano()))
	copy(buf[8:], value.Data)
	return buf
}

// decodeValue reverses encodeValue.
func decodeValue(raw []byte) (model.BlobValue, error) {
	if len(raw) < 8 {
		return model.BlobValue{}, fmt.Errorf("corrupt blob envelope: %d bytes", len(raw))
	}
	ctime := int64(binary.BigEndian.Uint64(raw))
	data := make([]byte, len(raw)-8)
	copy(data, raw[8:])
	return model.BlobValue{Data: data, Ctime: time.Unix(0, ctime).UTC()}, nil
}
