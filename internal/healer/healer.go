// Package healer drains the sync queue: for every recorded write gap it
// copies the blob from a replica that holds it into the store that
// missed it, then retires the entry.
package healer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/blobmux/blobmux/internal/blobstore"
	"github.com/blobmux/blobmux/internal/metrics"
	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/syncqueue"
	"github.com/blobmux/blobmux/internal/util/workerpool"
)

// Config tunes the healer.
type Config struct {
	Queue  syncqueue.Queue
	Stores map[model.StoreID]blobstore.Store

	// BatchSize bounds how many entries one pass claims.
	BatchSize int
	// Interval is the pause between passes.
	Interval time.Duration
	// EntryTTL drops entries too old to be worth healing. Zero keeps
	// entries forever.
	EntryTTL time.Duration
	// RatePerSecond bounds heal operations across the whole pool. Zero
	// means unlimited.
	RatePerSecond float64
	Workers       int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Healer is the background repair loop.
type Healer struct {
	queue   syncqueue.Queue
	stores  map[model.StoreID]blobstore.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	batchSize int
	interval  time.Duration
	entryTTL  time.Duration
	limiter   *rate.Limiter
	pool      *workerpool.Pool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a healer. Start must be called to begin draining.
func New(cfg Config) *Healer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Healer{
		queue:     cfg.Queue,
		stores:    cfg.Stores,
		logger:    logger,
		metrics:   cfg.Metrics,
		batchSize: cfg.BatchSize,
		interval:  cfg.Interval,
		entryTTL:  cfg.EntryTTL,
		limiter:   limiter,
		pool:      workerpool.New("healer", cfg.Workers, cfg.BatchSize, logger),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the periodic drain loop.
func (h *Healer) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), h.interval)
				if err := h.RunOnce(ctx); err != nil {
					h.logger.Warn("healer pass failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()

	h.logger.Info("healer started",
		zap.Duration("interval", h.interval),
		zap.Int("batch_size", h.batchSize))
}

// Stop halts the loop and drains in-flight heals.
func (h *Healer) Stop() {
	close(h.stopCh)
	h.wg.Wait()
	if err := h.pool.Stop(30 * time.Second); err != nil {
		h.logger.Warn("healer pool stop", zap.Error(err))
	}
	h.logger.Info("healer stopped")
}

// RunOnce claims one batch of entries and heals them, waiting for the
// whole batch to finish.
func (h *Healer) RunOnce(ctx context.Context) error {
	entries, err := h.queue.List(ctx, h.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list sync queue: %w", err)
	}
	if h.metrics != nil {
		h.metrics.QueueDepth.Set(float64(len(entries)))
	}
	if len(entries) == 0 {
		return nil
	}

	// Entries for one key share the source lookup, so they heal as a
	// unit.
	groups := make(map[string][]*model.SyncEntry)
	for _, entry := range entries {
		groups[entry.BlobstoreKey] = append(groups[entry.BlobstoreKey], entry)
	}

	var wg sync.WaitGroup
	for key, group := range groups {
		key, group := key, group
		wg.Add(1)
		task := workerpool.Task{
			ID: key,
			Fn: func(taskCtx context.Context) error {
				defer wg.Done()
				return h.healKey(taskCtx, key, group)
			},
		}
		if err := h.pool.SubmitWait(ctx, task); err != nil {
			wg.Done()
			h.logger.Warn("failed to submit heal task",
				zap.String("key", key),
				zap.Error(err))
		}
	}
	wg.Wait()
	return nil
}

// healKey repairs every gap recorded for one key.
func (h *Healer) healKey(ctx context.Context, key string, entries []*model.SyncEntry) error {
	live := entries
	if h.entryTTL > 0 {
		live = h.dropExpired(ctx, key, entries)
	}
	if len(live) == 0 {
		return nil
	}

	// The source value is fetched lazily; entries whose target already
	// holds the blob never need it.
	var (
		source       *model.BlobValue
		sourceLooked bool
	)

	for _, entry := range live {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}

		start := time.Now()
		outcome, err := h.healEntry(ctx, entry, &source, &sourceLooked)
		if h.metrics != nil {
			h.metrics.HealsTotal.WithLabelValues(outcome).Inc()
			h.metrics.HealDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			h.logger.Warn("heal failed",
				zap.String("key", key),
				zap.Stringer("store_id", entry.BlobstoreID),
				zap.Error(err))
		}
	}
	return nil
}

func (h *Healer) healEntry(ctx context.Context, entry *model.SyncEntry, source **model.BlobValue, sourceLooked *bool) (string, error) {
	target, ok := h.stores[entry.BlobstoreID]
	if !ok {
		// The store left the configuration; the gap is unhealable.
		if err := h.queue.Del(ctx, []*model.SyncEntry{entry}); err != nil {
			return "error", fmt.Errorf("failed to retire entry for unknown store: %w", err)
		}
		return "unknown_store", nil
	}

	present, err := target.IsPresent(ctx, entry.BlobstoreKey)
	if err != nil {
		return "error", fmt.Errorf("failed to check target store: %w", err)
	}
	if !present {
		if !*sourceLooked {
			*source = h.findSource(ctx, entry.BlobstoreKey, entry.BlobstoreID)
			*sourceLooked = true
		}
		if *source == nil {
			// No replica holds the blob yet; keep the entry and retry
			// next pass.
			return "no_source", fmt.Errorf("no replica holds key %q", entry.BlobstoreKey)
		}
		if _, err := target.PutWithBehaviour(ctx, entry.BlobstoreKey, **source, model.PutIfAbsent); err != nil {
			return "error", fmt.Errorf("failed to copy blob to target: %w", err)
		}
	}

	if err := h.queue.Del(ctx, []*model.SyncEntry{entry}); err != nil {
		return "error", fmt.Errorf("failed to retire healed entry: %w", err)
	}
	if present {
		return "already_present", nil
	}
	return "healed", nil
}

// findSource returns the blob from any store other than the gap target.
func (h *Healer) findSource(ctx context.Context, key string, exclude model.StoreID) *model.BlobValue {
	for id, store := range h.stores {
		if id == exclude {
			continue
		}
		value, err := store.Get(ctx, key)
		if err != nil {
			h.logger.Debug("source lookup failed",
				zap.Stringer("store_id", id),
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if value != nil {
			return value
		}
	}
	return nil
}

func (h *Healer) dropExpired(ctx context.Context, key string, entries []*model.SyncEntry) []*model.SyncEntry {
	cutoff := time.Now().Add(-h.entryTTL)
	live := entries[:0]
	var expired []*model.SyncEntry
	for _, entry := range entries {
		if entry.Timestamp.Before(cutoff) {
			expired = append(expired, entry)
		} else {
			live = append(live, entry)
		}
	}
	if len(expired) > 0 {
		h.logger.Warn("dropping expired sync queue entries",
			zap.String("key", key),
			zap.Int("count", len(expired)))
		if err := h.queue.Del(ctx, expired); err != nil {
			h.logger.Warn("failed to drop expired entries",
				zap.String("key", key),
				zap.Error(err))
		} else if h.metrics != nil {
			h.metrics.HealsTotal.WithLabelValues("expired").Add(float64(len(expired)))
		}
	}
	return live
}
