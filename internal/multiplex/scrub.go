package multiplex

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blobmux/blobmux/internal/model"
)

// ScrubAction selects what a scrub read does when it finds stores
// missing a blob that other stores hold.
type ScrubAction int

const (
	// ScrubActionReportOnly records the finding without writing.
	ScrubActionReportOnly ScrubAction = iota
	// ScrubActionRepair writes the blob to the stores missing it.
	ScrubActionRepair
)

func (a ScrubAction) String() string {
	switch a {
	case ScrubActionReportOnly:
		return "report_only"
	case ScrubActionRepair:
		return "repair"
	default:
		return "unknown"
	}
}

// WriteMostlyPolicy selects how scrub reads treat write-mostly stores.
type WriteMostlyPolicy int

const (
	// WriteMostlyScrub reads and repairs write-mostly stores like main
	// stores.
	WriteMostlyScrub WriteMostlyPolicy = iota
	// WriteMostlyScrubIfAbsent reads write-mostly stores only when no
	// main store has the blob, and repairs them when missing.
	WriteMostlyScrubIfAbsent
	// WriteMostlySkipMissing reads write-mostly stores but never
	// repairs them.
	WriteMostlySkipMissing
	// WriteMostlyPopulateIfAbsent skips reading write-mostly stores
	// and unconditionally attempts to populate them during repair.
	WriteMostlyPopulateIfAbsent
)

func (p WriteMostlyPolicy) String() string {
	switch p {
	case WriteMostlyScrub:
		return "scrub"
	case WriteMostlyScrubIfAbsent:
		return "scrub_if_absent"
	case WriteMostlySkipMissing:
		return "skip_missing"
	case WriteMostlyPopulateIfAbsent:
		return "populate_if_absent"
	default:
		return "unknown"
	}
}

// ScrubOptions tunes a scrubbing multiplex.
type ScrubOptions struct {
	Action      ScrubAction
	WriteMostly WriteMostlyPolicy
	// QueuePeekBound suppresses repair when the sync queue holds an
	// entry for the key younger than this bound; the healer is still
	// working on it.
	QueuePeekBound time.Duration
	// SampleRate scrubs one in every SampleRate reads; the rest take
	// the ordinary quorum read path. Zero or one scrubs every read.
	SampleRate uint64
}

// ScrubHandler observes scrub findings.
type ScrubHandler interface {
	OnRepair(ctx context.Context, multiplexID model.MultiplexID, storeID model.StoreID, key string, repaired bool, blobSize uint64)
}

// LoggingScrubHandler writes scrub findings to the service log.
type LoggingScrubHandler struct {
	logger *zap.Logger
}

// NewLoggingScrubHandler creates a handler that logs findings.
func NewLoggingScrubHandler(logger *zap.Logger) *LoggingScrubHandler {
	return &LoggingScrubHandler{logger: logger}
}

func (h *LoggingScrubHandler) OnRepair(_ context.Context, multiplexID model.MultiplexID, storeID model.StoreID, key string, repaired bool, blobSize uint64) {
	h.logger.Info("scrub finding",
		zap.Stringer("multiplex_id", multiplexID),
		zap.Stringer("store_id", storeID),
		zap.String("key", key),
		zap.Bool("repaired", repaired),
		zap.Uint64("blob_size", blobSize),
	)
}

// ScrubStore wraps a multiplex with scrubbing reads: every get fans out
// to all stores, compares the answers, and repairs or reports stores
// that are missing a blob their peers hold.
type ScrubStore struct {
	*Store
	opts  ScrubOptions
	scrub ScrubHandler
	reads atomic.Uint64
}

// NewScrubStore builds a scrubbing wrapper around an existing
// multiplex.
func NewScrubStore(inner *Store, opts ScrubOptions, handler ScrubHandler) *ScrubStore {
	if handler == nil {
		handler = NewLoggingScrubHandler(inner.logger)
	}
	return &ScrubStore{
		Store: inner,
		opts:  opts,
		scrub: handler,
	}
}

type scrubReadState struct {
	mu      sync.Mutex
	value   *model.BlobValue
	missing []model.StoreID
	errs    ErrorMap
}

// Get reads from every store, repairing stores that miss the blob per
// the configured action. Unlike the ordinary multiplex get it never
// short-circuits; a scrub read is only useful once every answer is in.
func (s *ScrubStore) Get(ctx context.Context, key string) (*model.BlobValue, error) {
	if s.opts.SampleRate > 1 && s.reads.Add(1)%s.opts.SampleRate != 0 {
		return s.Store.Get(ctx, key)
	}

	state := &scrubReadState{errs: make(ErrorMap)}

	readTiers := []struct {
		entries []StoreEntry
		tier    model.Tier
	}{
		{s.main, model.TierMain},
	}
	readWM := s.opts.WriteMostly != WriteMostlyPopulateIfAbsent &&
		s.opts.WriteMostly != WriteMostlyScrubIfAbsent
	if readWM {
		readTiers = append(readTiers, struct {
			entries []StoreEntry
			tier    model.Tier
		}{s.writeMostly, model.TierWriteMostly})
	}

	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, tier := range readTiers {
		for _, entry := range tier.entries {
			entry := entry
			g.Go(func() error {
				value, err := entry.Store.Get(gctx, key)
				state.mu.Lock()
				defer state.mu.Unlock()
				switch {
				case err != nil:
					state.errs[entry.ID] = err
					s.countStoreFailure(entry.ID, "scrub_get")
				case value == nil:
					state.missing = append(state.missing, entry.ID)
				case state.value == nil:
					state.value = value
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	// ScrubIfAbsent defers the write-mostly read until the main tier
	// proves empty.
	if s.opts.WriteMostly == WriteMostlyScrubIfAbsent {
		if state.value == nil {
			for _, entry := range s.writeMostly {
				value, err := entry.Store.Get(ctx, key)
				switch {
				case err != nil:
					state.errs[entry.ID] = err
				case value == nil:
					state.missing = append(state.missing, entry.ID)
				case state.value == nil:
					state.value = value
				}
			}
		} else {
			// Mains have it; treat write-mostly stores as repair
			// targets without reading them.
			state.missing = append(state.missing, s.writeMostlyIDs()...)
		}
	}
	if s.opts.WriteMostly == WriteMostlyPopulateIfAbsent {
		state.missing = append(state.missing, s.writeMostlyIDs()...)
	}

	if state.value == nil {
		if len(state.errs) == 0 {
			return nil, nil
		}
		s.countQuorumFailure("scrub_get")
		return nil, &GetQuorumError{Key: key, Errors: state.errs}
	}

	if len(state.errs) > 0 {
		// Cannot tell missing from unreachable; leave repair to a
		// healthier scrub run.
		s.logger.Warn("scrub read degraded, skipping repair",
			zap.String("key", key),
			zap.Error(state.errs),
		)
		return state.value, nil
	}

	if len(state.missing) > 0 {
		s.reconcile(ctx, key, *state.value, state.missing)
	}
	return state.value, nil
}

func (s *ScrubStore) writeMostlyIDs() []model.StoreID {
	ids := make([]model.StoreID, 0, len(s.writeMostly))
	for _, entry := range s.writeMostly {
		ids = append(ids, entry.ID)
	}
	return ids
}

// reconcile repairs or reports each store missing the blob. A fresh
// sync queue entry means the healer already owns the gap, so the scrub
// leaves it alone.
func (s *ScrubStore) reconcile(ctx context.Context, key string, value model.BlobValue, missing []model.StoreID) {
	if s.opts.QueuePeekBound > 0 {
		entries, err := s.queue.Get(ctx, key)
		if err != nil {
			s.logger.Warn("scrub queue peek failed",
				zap.String("key", key),
				zap.Error(err),
			)
			return
		}
		cutoff := time.Now().Add(-s.opts.QueuePeekBound)
		for _, entry := range entries {
			if entry.Timestamp.After(cutoff) {
				return
			}
		}
	}

	wm := make(map[model.StoreID]bool, len(s.writeMostly))
	for _, entry := range s.writeMostly {
		wm[entry.ID] = true
	}

	for _, id := range missing {
		if wm[id] && s.opts.WriteMostly == WriteMostlySkipMissing {
			continue
		}
		if s.opts.Action == ScrubActionReportOnly {
			s.scrub.OnRepair(ctx, s.multiplexID, id, key, false, value.Size())
			if s.metrics != nil {
				s.metrics.ScrubReports.WithLabelValues(id.String()).Inc()
			}
			continue
		}
		s.repairStore(ctx, id, key, value)
	}
}

func (s *ScrubStore) repairStore(ctx context.Context, id model.StoreID, key string, value model.BlobValue) {
	store := s.storeByID(id)
	if store == nil {
		return
	}

	_, err := store.PutWithBehaviour(ctx, key, value, model.PutIfAbsent)
	repaired := err == nil
	if err != nil {
		s.logger.Warn("scrub repair failed",
			zap.Stringer("store_id", id),
			zap.String("key", key),
			zap.Error(err),
		)
	}
	s.scrub.OnRepair(ctx, s.multiplexID, id, key, repaired, value.Size())
	if s.metrics != nil {
		outcome := "ok"
		if !repaired {
			outcome = "error"
		}
		s.metrics.ScrubRepairs.WithLabelValues(id.String(), outcome).Inc()
	}
}
