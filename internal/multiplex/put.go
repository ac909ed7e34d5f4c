package multiplex

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/blobmux/blobmux/internal/model"
	"github.com/blobmux/blobmux/internal/session"
)

type putEventKind int

const (
	eventPut putEventKind = iota
	eventHandler
)

type putEvent struct {
	kind    putEventKind
	storeID model.StoreID
	status  model.OverwriteStatus
	err     error
}

type putOutcome struct {
	status model.OverwriteStatus
	err    error
}

// Put stores the value on every backing store, overwriting previous
// values, and resolves per the session's class.
func (m *Store) Put(ctx context.Context, key string, value model.BlobValue) error {
	_, err := m.PutWithBehaviour(ctx, key, value, model.PutOverwrite)
	return err
}

// PutWithBehaviour fans the write out to every store. The put resolves
// successfully once MinSuccessfulWrites stores confirm (put plus
// handler), or, when fewer confirm, once at least one store holds the
// bytes and the missing stores are durably recorded in the sync queue.
func (m *Store) PutWithBehaviour(ctx context.Context, key string, value model.BlobValue, behaviour model.PutBehaviour) (model.OverwriteStatus, error) {
	sess := session.FromContext(ctx)
	opKey := model.NewOperationKey()

	// Store operations and the coordinator outlive the caller when a
	// put resolves before every store finishes.
	opCtx := context.WithoutCancel(ctx)

	events := make(chan putEvent, 2*len(m.all))
	for _, entry := range m.all {
		go func(entry tierEntry) {
			status, err := entry.Store.PutWithBehaviour(opCtx, key, value, behaviour)
			events <- putEvent{kind: eventPut, storeID: entry.ID, status: status, err: err}
		}(entry)
	}

	decisionCh := make(chan putOutcome, 1)
	doneCh := make(chan putOutcome, 1)
	go m.coordinatePut(opCtx, sess, key, opKey, value.Size(), events, decisionCh, doneCh)

	var out putOutcome
	switch sess.Class {
	case session.ClassBackground:
		out = <-doneCh
	case session.ClassBackgroundUnlessTooSlow:
		out = <-decisionCh
		if out.err == nil {
			timer := time.NewTimer(sess.BackgroundTimeout)
			defer timer.Stop()
			select {
			case final := <-doneCh:
				out = final
			case <-timer.C:
				// Stragglers keep running detached.
			}
		}
	default:
		out = <-decisionCh
	}
	return out.status, out.err
}

// coordinatePut drains put and handler events until every store has a
// final outcome. It pushes the earliest resolvable outcome to
// decisionCh and the fully drained outcome to doneCh.
func (m *Store) coordinatePut(ctx context.Context, sess session.Session, key string, opKey model.OperationKey, blobSize uint64, events chan putEvent, decisionCh, doneCh chan<- putOutcome) {
	pendingPuts := len(m.all)
	pendingHandlers := 0
	succeeded := make(map[model.StoreID]bool, len(m.all))
	confirmed := 0
	failures := make(ErrorMap)
	handlerFailures := make(ErrorMap)
	status := model.OverwriteNotChecked

	// Background puts wait for every store anyway, so handler calls are
	// deferred until a failure proves they will be needed. If every
	// store succeeds they are skipped entirely.
	eagerHandlers := sess.Class != session.ClassBackground
	var deferredSuccesses []model.StoreID

	decided := false
	decide := func(out putOutcome) {
		if !decided {
			decided = true
			decisionCh <- out
		}
	}

	spawnHandler := func(storeID model.StoreID) {
		pendingHandlers++
		go func() {
			err := m.handler.OnPut(ctx, storeID, m.multiplexID, opKey, key, blobSize)
			events <- putEvent{kind: eventHandler, storeID: storeID, err: err}
		}()
	}

	for pendingPuts > 0 || pendingHandlers > 0 {
		ev := <-events
		switch ev.kind {
		case eventPut:
			pendingPuts--
			if ev.err != nil {
				failures[ev.storeID] = ev.err
				m.countStoreFailure(ev.storeID, "put")
				if !eagerHandlers {
					eagerHandlers = true
					for _, id := range deferredSuccesses {
						spawnHandler(id)
					}
					deferredSuccesses = nil
				}
			} else {
				succeeded[ev.storeID] = true
				if ev.status == model.OverwritePrevented {
					status = model.OverwritePrevented
				}
				switch {
				case m.handler == nil:
					confirmed++
				case eagerHandlers:
					spawnHandler(ev.storeID)
				default:
					deferredSuccesses = append(deferredSuccesses, ev.storeID)
				}
			}
		case eventHandler:
			pendingHandlers--
			if ev.err != nil {
				handlerFailures[ev.storeID] = ev.err
			} else {
				confirmed++
			}
		}

		if confirmed >= m.minSuccessfulWrites {
			decide(putOutcome{status: status})
		}
		if pendingPuts == 0 && len(failures) == 0 {
			// Every store holds the bytes; handler outcomes cannot
			// fail the put.
			decide(putOutcome{status: status})
		}
	}

	out := m.resolvePut(ctx, key, opKey, blobSize, status, confirmed, succeeded, failures, handlerFailures)
	decide(out)
	doneCh <- out
}

// resolvePut computes the final outcome once every store result is in,
// writing sync queue entries for the stores that missed the write.
func (m *Store) resolvePut(ctx context.Context, key string, opKey model.OperationKey, blobSize uint64, status model.OverwriteStatus, confirmed int, succeeded map[model.StoreID]bool, failures, handlerFailures ErrorMap) putOutcome {
	if len(failures) == 0 && len(handlerFailures) == 0 {
		return putOutcome{status: status}
	}

	gaps := make([]model.StoreID, 0, len(failures)+len(handlerFailures))
	for id := range failures {
		gaps = append(gaps, id)
	}
	for id := range handlerFailures {
		gaps = append(gaps, id)
	}

	if confirmed >= m.minSuccessfulWrites || len(failures) == 0 {
		// The put already resolved successfully; gap entries are best
		// effort and failures here only cost healer latency.
		if err := m.queueGaps(ctx, key, opKey, blobSize, gaps); err != nil {
			m.logger.Warn("failed to queue write gaps after successful put",
				zap.String("key", key),
				zap.String("operation_key", string(opKey)),
				zap.Error(err),
			)
		}
		return putOutcome{status: status}
	}

	// Under quorum. The put can still succeed if at least one store
	// holds the bytes and every gap is durably recorded.
	allErrs := failures.clone()
	for id, err := range handlerFailures {
		allErrs[id] = err
	}

	if len(succeeded) > 0 {
		if err := m.queueGaps(ctx, key, opKey, blobSize, gaps); err == nil {
			return putOutcome{status: status}
		}
		m.logger.Error("failed to queue write gaps for under-quorum put",
			zap.String("key", key),
			zap.String("operation_key", string(opKey)),
		)
	}

	m.countQuorumFailure("put")
	return putOutcome{status: status, err: &PutQuorumError{
		Key:       key,
		Needed:    m.minSuccessfulWrites,
		Confirmed: confirmed,
		Errors:    allErrs,
	}}
}

func (m *Store) queueGaps(ctx context.Context, key string, opKey model.OperationKey, blobSize uint64, stores []model.StoreID) error {
	if len(stores) == 0 {
		return nil
	}
	entries := make([]*model.SyncEntry, 0, len(stores))
	for _, id := range stores {
		entries = append(entries, model.NewSyncEntry(key, id, m.multiplexID, opKey, blobSize))
	}
	if err := m.queue.AddMany(ctx, entries); err != nil {
		if m.metrics != nil {
			m.metrics.QueueWriteErrs.Inc()
		}
		return err
	}
	if m.metrics != nil {
		for _, id := range stores {
			m.metrics.QueueWrites.WithLabelValues(id.String()).Inc()
		}
	}
	return nil
}
