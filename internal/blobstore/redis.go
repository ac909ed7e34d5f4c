package blobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/model"
)

// RedisStore keeps blobs in a Redis instance. Typically deployed as a
// write-mostly tier member serving nearby readers.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(host string, port int, password string, db int, prefix string, logger *zap.Logger) (*RedisStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

// Get retrieves the blob, returning (nil, nil) when the key is absent.
func (s *RedisStore) Get(ctx context.Context, key string) (*model.BlobValue, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	value, err := decodeValue(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key %s: %w", key, err)
	}
	return &value, nil
}

// Put stores the blob unconditionally.
func (s *RedisStore) Put(ctx context.Context, key string, value model.BlobValue) error {
	_, err := s.PutWithBehaviour(ctx, key, value, model.PutOverwrite)
	return err
}

// PutWithBehaviour stores the blob, using SETNX for PutIfAbsent.
func (s *RedisStore) PutWithBehaviour(ctx context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error) {
	raw := encodeValue(value)

	if behaviour == model.PutIfAbsent {
		stored, err := s.client.SetNX(ctx, s.redisKey(key), raw, 0).Result()
		if err != nil {
			return model.OverwriteNotChecked, err
		}
		if !stored {
			return model.OverwritePrevented, nil
		}
		return model.OverwriteNotChecked, nil
	}

	if err := s.client.Set(ctx, s.redisKey(key), raw, 0).Err(); err != nil {
		return model.OverwriteNotChecked, err
	}
	return model.OverwriteNotChecked, nil
}

// IsPresent checks key existence without transferring the payload.
func (s *RedisStore) IsPresent(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
