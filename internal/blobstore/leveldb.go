package blobstore

import (
	"context"
	"fmt"
	"sync"

	levelDb "github.com/syndtr/goleveldb/leveldb"

	"github.com/blobmux/blobmux/internal/model"
)

// LevelDBStore persists blobs in a local LevelDB database.
type LevelDBStore struct {
	db   *levelDb.DB
	path string

	// Serializes PutIfAbsent check-then-write; LevelDB has no native
	// conditional put.
	writeMu sync.Mutex
}

// NewLevelDBStore opens (or creates) a LevelDB database at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := levelDb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	return &LevelDBStore{
		db:   db,
		path: path,
	}, nil
}

func (l *LevelDBStore) Get(_ context.Context, key string) (*model.BlobValue, error) {
	raw, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if err == levelDb.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	value, err := decodeValue(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return &value, nil
}

func (l *LevelDBStore) Put(ctx context.Context, key string, value model.BlobValue) error {
	_, err := l.PutWithBehaviour(ctx, key, value, model.PutOverwrite)
	return err
}

func (l *LevelDBStore) PutWithBehaviour(_ context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error) {
	if behaviour == model.PutIfAbsent {
		l.writeMu.Lock()
		defer l.writeMu.Unlock()

		exists, err := l.db.Has([]byte(key), nil)
		if err != nil {
			return model.OverwriteNotChecked, fmt.Errorf("failed to check key %s: %w", key, err)
		}
		if exists {
			return model.OverwritePrevented, nil
		}
	}

	if err := l.db.Put([]byte(key), encodeValue(value), nil); err != nil {
		return model.OverwriteNotChecked, fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return model.OverwriteNotChecked, nil
}

func (l *LevelDBStore) IsPresent(_ context.Context, key string) (bool, error) {
	exists, err := l.db.Has([]byte(key), nil)
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", key, err)
	}
	return exists, nil
}

// Close flushes and closes the underlying database.
func (l *LevelDBStore) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
