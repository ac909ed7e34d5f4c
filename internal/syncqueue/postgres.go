package syncqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blobmux/blobmux/internal/model"
)

// PostgresQueue implements Queue using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE sync_queue (
//	    id            BIGSERIAL PRIMARY KEY,
//	    blobstore_key TEXT        NOT NULL,
//	    blobstore_id  INT         NOT NULL,
//	    multiplex_id  INT         NOT NULL,
//	    timestamp     TIMESTAMPTZ NOT NULL,
//	    operation_key UUID        NOT NULL,
//	    blob_size     BIGINT      NOT NULL DEFAULT 0
//	);
//	CREATE INDEX sync_queue_key_idx ON sync_queue (blobstore_key);
//	CREATE INDEX sync_queue_ts_idx  ON sync_queue (timestamp);
type PostgresQueue struct {
	pool *pgxpool.Pool
}

// NewPostgresQueue creates a new PostgreSQL-backed queue.
func NewPostgresQueue(pool *pgxpool.Pool) *PostgresQueue {
	return &PostgresQueue{
		pool: pool,
	}
}

// Add appends a single entry and fills in its assigned ID.
func (q *PostgresQueue) Add(ctx context.Context, entry *model.SyncEntry) error {
	query := `
		INSERT INTO sync_queue (
			blobstore_key, blobstore_id, multiplex_id,
			timestamp, operation_key, blob_size
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err := q.pool.QueryRow(ctx, query,
		entry.BlobstoreKey,
		int(entry.BlobstoreID),
		int(entry.MultiplexID),
		entry.Timestamp,
		string(entry.OperationKey),
		entry.BlobSize,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to add sync queue entry: %w", err)
	}

	return nil
}

// AddMany appends all entries in a single batch.
func (q *PostgresQueue) AddMany(ctx context.Context, entries []*model.SyncEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO sync_queue (
			blobstore_key, blobstore_id, multiplex_id,
			timestamp, operation_key, blob_size
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(query,
			entry.BlobstoreKey,
			int(entry.BlobstoreID),
			int(entry.MultiplexID),
			entry.Timestamp,
			string(entry.OperationKey),
			entry.BlobSize,
		)
	}

	results := q.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, entry := range entries {
		if err := results.QueryRow().Scan(&entry.ID); err != nil {
			return fmt.Errorf("failed to add sync queue entries: %w", err)
		}
	}

	return nil
}

// Get returns all live entries for a blobstore key, oldest first.
func (q *PostgresQueue) Get(ctx context.Context, key string) ([]*model.SyncEntry, error) {
	query := `
		SELECT id, blobstore_key, blobstore_id, multiplex_id,
		       timestamp, operation_key, blob_size
		FROM sync_queue
		WHERE blobstore_key = $1
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := q.pool.Query(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync queue entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Del removes the given entries.
func (q *PostgresQueue) Del(ctx context.Context, entries []*model.SyncEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}

	query := `DELETE FROM sync_queue WHERE id = ANY($1)`

	result, err := q.pool.Exec(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to delete sync queue entries: %w", err)
	}

	if result.RowsAffected() != int64(len(ids)) {
		return ErrNotFound
	}

	return nil
}

// List returns up to limit live entries across all keys, oldest first.
func (q *PostgresQueue) List(ctx context.Context, limit int) ([]*model.SyncEntry, error) {
	query := `
		SELECT id, blobstore_key, blobstore_id, multiplex_id,
		       timestamp, operation_key, blob_size
		FROM sync_queue
		ORDER BY timestamp ASC, id ASC
		LIMIT $1
	`

	rows, err := q.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync queue entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CleanupOlderThan deletes entries older than the cutoff, returning the
// number removed. Used by operators to drop gaps that are no longer
// worth healing.
func (q *PostgresQueue) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sync_queue WHERE timestamp < $1`

	result, err := q.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sync queue: %w", err)
	}

	return result.RowsAffected(), nil
}

// Count returns the number of live entries.
func (q *PostgresQueue) Count(ctx context.Context) (int64, error) {
	var count int64
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync queue entries: %w", err)
	}
	return count, nil
}

func scanEntries(rows pgx.Rows) ([]*model.SyncEntry, error) {
	entries := make([]*model.SyncEntry, 0)
	for rows.Next() {
		var (
			entry       model.SyncEntry
			blobstoreID int
			multiplexID int
			opKey       string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.BlobstoreKey,
			&blobstoreID,
			&multiplexID,
			&entry.Timestamp,
			&opKey,
			&entry.BlobSize,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync queue entry: %w", err)
		}
		entry.BlobstoreID = model.StoreID(blobstoreID)
		entry.MultiplexID = model.MultiplexID(multiplexID)
		entry.OperationKey = model.OperationKey(opKey)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
